package config

// BrokerSettings holds configuration for connecting to the message broker.
type BrokerSettings struct {
	Type string `mapstructure:"type" validate:"required,oneof=rabbitmq gcp-pubsub"`
	// URL is the AMQP connection string for the rabbitmq broker.
	URL string `mapstructure:"url"`
	// Queue is the well-known service queue name.
	Queue string `mapstructure:"queue" validate:"required"`
	// ProjectID, Topic and Subscription are used by the gcp-pubsub broker.
	ProjectID    string `mapstructure:"projectID"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}
