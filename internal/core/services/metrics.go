package services

import "heartline/internal/core/domain"

type multiMetrics []CallMetrics

func (m multiMetrics) ObserveStateChange(call *domain.Call) {
	for _, c := range m {
		c.ObserveStateChange(call)
	}
}

func (m multiMetrics) ObserveQuality(callID domain.CallID, sample domain.QualitySample) {
	for _, c := range m {
		c.ObserveQuality(callID, sample)
	}
}

// CombineMetrics returns a collector that forwards each observation to every
// non-nil collector given. Returns nil when none remain.
func CombineMetrics(collectors ...CallMetrics) CallMetrics {
	var out multiMetrics
	for _, c := range collectors {
		if c != nil {
			out = append(out, c)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}
