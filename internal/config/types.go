package config

// SchedulerConfig tunes step execution.
type SchedulerConfig struct {
	MaxConcurrency    int  `json:"max_concurrency"`     // simultaneous running steps
	ContinueOnFailure bool `json:"continue_on_failure"` // isolate failures instead of skipping dependents
}

// VerificationConfig tunes sampling and rule thresholds.
type VerificationConfig struct {
	HeadRows           int      `json:"head_rows"`
	TailRows           int      `json:"tail_rows"`
	RandomRows         int      `json:"random_rows"`
	RequiredRoles      []string `json:"required_roles,omitempty"` // column roles that must not be empty
	LookupTolerance    float64  `json:"lookup_tolerance"`
	IQRMultiplier      float64  `json:"iqr_multiplier"`
	OutlierMinFraction float64  `json:"outlier_min_fraction"`
	MinNumericSamples  int      `json:"min_numeric_samples"`
}

// DecisionConfig tunes the signal layer.
type DecisionConfig struct {
	PendingThreshold  int      `json:"pending_threshold"`       // unresolved signals before forced rollback
	IgnoredRules      []string `json:"ignored_rules,omitempty"` // rule ids the user pre-approved
	AdviseTimeoutSecs int      `json:"advise_timeout_seconds"`
}

// ReflectionConfig tunes the reflection controller.
type ReflectionConfig struct {
	Frequency           int     `json:"frequency"` // reflect every nth step; final step always
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	TimeoutSecs         int     `json:"timeout_seconds"`
}

// JudgeConfig configures the optional external judgment call.
type JudgeConfig struct {
	Enabled   bool   `json:"enabled"`
	Model     string `json:"model,omitempty"`
	APIKeyEnv string `json:"api_key_env"` // environment variable holding the API key
}

// AgentConfig is the top-level configuration.
type AgentConfig struct {
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Verification VerificationConfig `json:"verification"`
	Decision     DecisionConfig     `json:"decision"`
	Reflection   ReflectionConfig   `json:"reflection"`
	Judge        JudgeConfig        `json:"judge"`
}
