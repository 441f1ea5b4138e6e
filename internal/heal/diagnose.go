package heal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/angelmondragon/storefront-autopilot/pkg/deploy"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
)

// Remediation names one pre-approved corrective action.
type Remediation string

const (
	RemediationNone              Remediation = ""
	RemediationDisableProtection Remediation = "disable_protection"
	RemediationPushEnv           Remediation = "push_env"
)

var approvedRemediations = []Remediation{
	RemediationDisableProtection,
	RemediationPushEnv,
}

// Advisor is the optional free-text reasoning collaborator.
type Advisor interface {
	Suggest(ctx context.Context, prompt string) (string, error)
}

// Diagnosis is the chosen remediation and where the choice came from.
type Diagnosis struct {
	Remediation Remediation
	Source      string
	Reason      string
}

// Diagnoser maps a failure to a pre-approved remediation. The advisor may
// only pick from the approved list; any other answer means no action.
type Diagnoser struct {
	advisor Advisor
	logg    *logger.Logger
}

func NewDiagnoser(advisor Advisor, logg *logger.Logger) (*Diagnoser, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Diagnoser{advisor: advisor, logg: logg}, nil
}

func (d *Diagnoser) Diagnose(ctx context.Context, failure error) Diagnosis {
	if failure == nil {
		return Diagnosis{}
	}
	if diag, ok := matchRules(failure); ok {
		return diag
	}
	if d.advisor == nil {
		return Diagnosis{Source: "rules", Reason: "no rule matched"}
	}

	answer, err := d.advisor.Suggest(ctx, diagnosisPrompt(failure))
	if err != nil {
		d.logg.Warn(ctx, "advisor unavailable: "+err.Error())
		return Diagnosis{Source: "advisor", Reason: "advisor unavailable"}
	}
	if remediation, ok := parseRemediation(answer); ok {
		return Diagnosis{Remediation: remediation, Source: "advisor", Reason: strings.TrimSpace(answer)}
	}
	return Diagnosis{Source: "advisor", Reason: "answer not an approved remediation"}
}

// envFailure matches env var wording but not words that merely contain "env".
var envFailure = regexp.MustCompile(`\b(?:env|env[ _-]?vars?|environment variables?)\b`)

func matchRules(failure error) (Diagnosis, bool) {
	var apiErr *deploy.APIError
	if errors.As(failure, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			if apiErr.Op != "create deployment" {
				return Diagnosis{Remediation: RemediationDisableProtection, Source: "rules", Reason: apiErr.Error()}, true
			}
		}
	}

	msg := strings.ToLower(failure.Error())
	switch {
	case strings.Contains(msg, "protection"), strings.Contains(msg, "authentication required"),
		strings.Contains(msg, "status 401"), strings.Contains(msg, "status 403"):
		return Diagnosis{Remediation: RemediationDisableProtection, Source: "rules", Reason: msg}, true
	case envFailure.MatchString(msg), strings.Contains(msg, "api key"), strings.Contains(msg, "secret"):
		return Diagnosis{Remediation: RemediationPushEnv, Source: "rules", Reason: msg}, true
	}
	return Diagnosis{}, false
}

func diagnosisPrompt(failure error) string {
	names := make([]string, 0, len(approvedRemediations))
	for _, r := range approvedRemediations {
		names = append(names, string(r))
	}
	return fmt.Sprintf("A storefront redeploy failed with: %q\nAllowed remediations: %s\nReply with exactly one name, or none.",
		failure.Error(), strings.Join(names, ", "))
}

func parseRemediation(answer string) (Remediation, bool) {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	for _, r := range approvedRemediations {
		if strings.Contains(normalized, string(r)) {
			return r, true
		}
	}
	return RemediationNone, false
}
