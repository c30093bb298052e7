package eventbus

const (
	TypePushTokensInvalid  = "push.tokens_invalid"
	TypeMemberUnsubscribed = "member.unsubscribed"
	TypeBatchCompleted     = "batch.completed"
	TypeSendTimeRefreshed  = "sendtime.refreshed"
)

// PushTokensInvalid carries tokens the push provider rejected permanently.
type PushTokensInvalid struct {
	MemberID string   `json:"member_id"`
	Tokens   []string `json:"tokens"`
}

type MemberUnsubscribed struct {
	MemberID string `json:"member_id"`
	Reason   string `json:"reason"`
}
