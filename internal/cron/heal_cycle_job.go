package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront-autopilot/internal/heal"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
)

type cycleRunner interface {
	RunFullCycle(ctx context.Context) (*heal.CycleResult, error)
}

type HealCycleJobParams struct {
	Logger     *logger.Logger
	Controller cycleRunner
}

func NewHealCycleJob(params HealCycleJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Controller == nil {
		return nil, fmt.Errorf("heal controller required")
	}
	return &healCycleJob{logg: params.Logger, controller: params.Controller}, nil
}

type healCycleJob struct {
	logg       *logger.Logger
	controller cycleRunner
}

func (j *healCycleJob) Name() string { return "heal-cycle" }

func (j *healCycleJob) Run(ctx context.Context) error {
	result, err := j.controller.RunFullCycle(ctx)
	if err != nil {
		return err
	}
	if result.Report != nil {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"broken_products":   result.Report.Summary.BrokenProducts,
			"broken_promotions": result.Report.Summary.BrokenPromotions,
			"redeploys":         result.Products.Attempted,
		}), "heal cycle finished")
	}
	return nil
}
