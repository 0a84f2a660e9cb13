package model

type InstanceStatus string

const (
	InstanceStatusDisconnected InstanceStatus = "disconnected"
	InstanceStatusConnecting   InstanceStatus = "connecting"
	InstanceStatusConnected    InstanceStatus = "connected"
)

// AccountState is derived from AccountProfile flags, never stored directly.
type AccountState string

const (
	AccountStateActive      AccountState = "active"
	AccountStateGracePeriod AccountState = "grace_period"
	AccountStatePaused      AccountState = "paused"
)

// BillingEventKind is the normalized form of a billing-provider webhook
// event; only the kinds the lifecycle state machine reacts to exist.
type BillingEventKind string

const (
	BillingPaymentSucceeded     BillingEventKind = "payment_succeeded"
	BillingPaymentFailed        BillingEventKind = "payment_failed"
	BillingSubscriptionCanceled BillingEventKind = "subscription_canceled"
	BillingSubscriptionUpdated  BillingEventKind = "subscription_updated"
)
