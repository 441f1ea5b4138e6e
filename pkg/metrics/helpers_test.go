package metrics

import (
	"fmt"

	dto "github.com/prometheus/client_model/go"
)

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels ...string) (float64, error) {
	metric, err := findMetric(mfs, name, labels...)
	if err != nil {
		return 0, err
	}
	return metric.GetCounter().GetValue(), nil
}

func findMetric(mfs []*dto.MetricFamily, name string, labels ...string) (*dto.Metric, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabels(metric.GetLabel(), labels) {
				return metric, nil
			}
		}
		return nil, fmt.Errorf("metric %q has no series with labels %v", name, labels)
	}
	return nil, fmt.Errorf("metric %q not found", name)
}

// hasLabels matches name/value pairs given as a flat list.
func hasLabels(pairs []*dto.LabelPair, want []string) bool {
	for i := 0; i+1 < len(want); i += 2 {
		found := false
		for _, p := range pairs {
			if p.GetName() == want[i] && p.GetValue() == want[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}
