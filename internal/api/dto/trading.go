package dto

type SaveKeysRequest struct {
	Exchange   string `json:"exchange" validate:"required"`
	APIKey     string `json:"api_key" validate:"required"`
	APISecret  string `json:"api_secret" validate:"required"`
	Passphrase string `json:"passphrase"` // нужен не всем биржам
}

type RespondRequest struct {
	Approved     bool     `json:"approved"`
	EntryPrice   *float64 `json:"entry_price" validate:"omitempty,gt=0"`
	StopLoss     *float64 `json:"stop_loss" validate:"omitempty,gt=0"`
	TakeProfit   *float64 `json:"take_profit" validate:"omitempty,gt=0"`
	PositionSize *float64 `json:"position_size" validate:"omitempty,gt=0"`
}

type ExecuteRequest struct {
	Exchange string `json:"exchange"` // пусто — самое свежее подключение
}

type KillSwitchRequest struct {
	Action        string `json:"action" validate:"required,oneof=activate deactivate reset"`
	Reason        string `json:"reason"`
	RecoveryHours int    `json:"recovery_hours" validate:"omitempty,min=0,max=720"`
}
