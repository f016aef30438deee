package entity

import "context"

// Publisher declares the JetStream streams a component writes to.
type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}

// Subscriber attaches the consumers a component reads decisions from.
type Subscriber interface {
	JetstreamEventSubscribe(ctx context.Context) error
}

// SubscriptionCloser drains the consumers opened by JetstreamEventSubscribe.
type SubscriptionCloser interface {
	Close() error
}
