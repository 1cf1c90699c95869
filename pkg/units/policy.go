package units

import (
	"github.com/openfroyo/unitrun/pkg/engine"
	"github.com/openfroyo/unitrun/pkg/policy"
)

func (s *Set) selectionPolicy(e *engine.Engine) error {
	paths, err := stringSlice(e, PolicyPathsVar)
	if err != nil {
		return err
	}

	ctx := ContextVar.MustGet(e)
	pe, err := policy.NewEngine(s.logger)
	if err != nil {
		return err
	}
	if len(paths) > 0 {
		if err := pe.LoadPolicies(ctx, paths); err != nil {
			return err
		}
	}

	result, err := pe.EvaluateEngine(ctx, e)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		s.logger.Warn().Str("warning", w).Msg("Policy could not be evaluated")
	}
	violations := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		violations = append(violations, v.String())
		event := s.logger.Info()
		if v.Severity.Blocking() {
			event = s.logger.Error()
		}
		event.Str("policy", v.Policy).
			Str("severity", string(v.Severity)).
			Str("unit", v.Unit).
			Msg(v.Message)
	}

	if tel, err := TelemetryStateVar.Get(e); err == nil && tel != nil {
		_ = tel.Events.PublishPolicyDecision(e.ID(), result.Allowed, violations)
	}
	return result.Err()
}
