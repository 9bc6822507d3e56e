package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("opsync"))
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

// SubscribeTriggers calls handler for every run request published on
// SubjectRunRequested. Malformed messages are dropped.
func (p *Publisher) SubscribeTriggers(handler func(RunRequested)) (*nats.Subscription, error) {
	return p.Conn.Subscribe(SubjectRunRequested, func(msg *nats.Msg) {
		var evt RunRequested
		if err := json.Unmarshal(msg.Data, &evt); err != nil || evt.Job == "" {
			return
		}
		handler(evt)
	})
}
