package config

// ValidateParams 额外验证非空/非零的关键参数（部署前检查用）。
func ValidateParams(cfg AppConfig) error {
	if cfg.Execution.MaxOrderNotional <= 0 {
		return ErrInvalid("execution.maxOrderNotional must be > 0")
	}
	if cfg.Execution.DefaultMaxSlippage <= 0 {
		return ErrInvalid("execution.defaultMaxSlippage must be > 0")
	}
	if cfg.Store.Path == "" {
		return ErrInvalid("store.path is required")
	}
	return nil
}

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }
