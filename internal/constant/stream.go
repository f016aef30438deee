package constant

import (
	"fmt"
	"strings"
)

const (
	DecisionStreamName       = "trade_decision"
	DecisionStreamSubjectAll = "trade_decision.*"
	DecisionQueueGroup       = "trade_decision_group"

	DecisionRecordStreamName       = "decision_record"
	DecisionRecordStreamSubjectAll = "decision_record.*"
)

func GetDecisionSubject(symbol string) string {
	return fmt.Sprintf("%s.%s", DecisionStreamName, strings.ToUpper(symbol))
}

func GetDecisionDurableName(symbol string) string {
	return fmt.Sprintf("%s_%s", DecisionQueueGroup, strings.ToLower(symbol))
}

func GetDecisionRecordSubject(symbol string) string {
	return fmt.Sprintf("%s.%s", DecisionRecordStreamName, strings.ToUpper(symbol))
}

func GetSymbolLockKey(symbol string) string {
	return fmt.Sprintf("futures-engine:symbol-lock:%s", strings.ToUpper(symbol))
}
