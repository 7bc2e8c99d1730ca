package kafka

import (
	"strings"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/compensation"
)

const (
	TopicRegisterRequest = "budget.register.req"
	TopicConfirmRequest  = compensation.TopicUsageConfirm
	TopicRollbackRequest = compensation.TopicUsageRollback
	TopicReplyPrefix     = "budget.reply."
	TopicRequestSuffix   = ".req"
	TopicRetrySuffix     = ".retry"
	TopicDLQSuffix       = ".dlq"

	RequestTimeout = 3 * time.Second

	RetryHeaderNextAt  = "x-next-at"
	RetryHeaderAttempt = "x-attempt"
	ErrorHeaderKey     = "x-error"

	SchemaVersion = 1
)

// RequestTopics are the topics the budget consumer serves.
var RequestTopics = []string{TopicRegisterRequest, TopicConfirmRequest, TopicRollbackRequest}

// RetryTopic maps "budget.confirm.req" to "budget.confirm.retry".
func RetryTopic(topic string) string {
	return baseTopic(topic) + TopicRetrySuffix
}

// RequestTopic maps a retry topic back to the request topic it came from.
func RequestTopic(retryTopic string) string {
	return baseTopic(retryTopic) + TopicRequestSuffix
}

func DLQTopic(topic string) string {
	return topic + TopicDLQSuffix
}

func RetryTopics() []string {
	out := make([]string, 0, len(RequestTopics))
	for _, topic := range RequestTopics {
		out = append(out, RetryTopic(topic))
	}
	return out
}

func ReplyTopic(instanceID string) string {
	return TopicReplyPrefix + instanceID
}

func baseTopic(topic string) string {
	topic = strings.TrimSuffix(topic, TopicRequestSuffix)
	return strings.TrimSuffix(topic, TopicRetrySuffix)
}
