package config

// DefaultConfig returns the default configuration.
func DefaultConfig() *AgentConfig {
	return &AgentConfig{
		Scheduler: SchedulerConfig{
			MaxConcurrency:    4,
			ContinueOnFailure: false,
		},
		Verification: VerificationConfig{
			HeadRows:           10,
			TailRows:           5,
			RandomRows:         15,
			RequiredRoles:      []string{"identifier", "quantity", "unit_price"},
			LookupTolerance:    0.01,
			IQRMultiplier:      1.5,
			OutlierMinFraction: 0.10,
			MinNumericSamples:  5,
		},
		Decision: DecisionConfig{
			PendingThreshold:  3,
			AdviseTimeoutSecs: 10,
		},
		Reflection: ReflectionConfig{
			Frequency:           1,
			ConfidenceThreshold: 0.5,
			TimeoutSecs:         15,
		},
		Judge: JudgeConfig{
			Enabled:   false,
			APIKeyEnv: "GEMINI_API_KEY",
		},
	}
}
