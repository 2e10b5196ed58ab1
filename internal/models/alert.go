package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertKind classifies a portfolio risk alert.
type AlertKind string

const (
	AlertDrawdown      AlertKind = "drawdown"
	AlertConcentration AlertKind = "concentration"
	AlertVaR           AlertKind = "var"
)

// AlertSeverity ranks how urgent an alert is.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// RiskAlert represents a breached portfolio-level risk threshold.
type RiskAlert struct {
	ID        string
	AccountID string
	Kind      AlertKind
	Severity  AlertSeverity
	Message   string
	Value     decimal.Decimal
	Threshold decimal.Decimal
	At        time.Time
}
