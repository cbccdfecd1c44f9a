// Package notify publishes batch run summaries to an MQTT broker.
package notify

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nvr-ai/parking-occupancy/report"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config contains the MQTT publisher settings. An empty Broker disables publishing.
type Config struct {
	Broker   string        `mapstructure:"broker"`
	ClientID string        `mapstructure:"client_id"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Topic    string        `mapstructure:"topic"`
	QoS      byte          `mapstructure:"qos"`
	Retain   bool          `mapstructure:"retain"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() Config {
	return Config{
		ClientID: "parking-occupancy",
		Topic:    "parking/occupancy/runs",
		Timeout:  10 * time.Second,
	}
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool {
	return c.Broker != ""
}

// CameraSummary counts the occupied regions of one camera's most recent image.
type CameraSummary struct {
	CameraID string `json:"cctv_id"`
	Image    string `json:"image_name"`
	Occupied int    `json:"occupied"`
	Total    int    `json:"total"`
}

// Message is the payload published after a run.
type Message struct {
	RunID      string          `json:"run_id"`
	ProjectID  string          `json:"project_id,omitempty"`
	ResultPath string          `json:"result_path"`
	TotalTests int             `json:"total_tests"`
	Cameras    []CameraSummary `json:"cameras"`
}

// NewMessage builds the run message for rep written at resultPath.
//
// Each camera is summarized by its last image in report order.
func NewMessage(rep *report.BatchReport, resultPath string) Message {
	byCamera := make(map[string]CameraSummary)
	for _, r := range rep.Results {
		byCamera[r.CameraID] = CameraSummary{
			CameraID: r.CameraID,
			Image:    r.ImageName,
			Occupied: r.Summary.Occupied,
			Total:    r.Summary.Regions,
		}
	}

	cameras := make([]CameraSummary, 0, len(byCamera))
	for _, c := range byCamera {
		cameras = append(cameras, c)
	}
	sort.Slice(cameras, func(i, j int) bool { return cameras[i].CameraID < cameras[j].CameraID })

	return Message{
		RunID:      rep.RunID,
		ProjectID:  rep.ProjectID,
		ResultPath: resultPath,
		TotalTests: rep.TotalTests,
		Cameras:    cameras,
	}
}

// Publisher sends run messages to a topic.
type Publisher struct {
	config Config
	client mqtt.Client
	logger zerolog.Logger
}

// Connect creates a publisher connected to the configured broker.
//
// Arguments:
//   - ctx: Bounds the connection attempt.
//   - config: Broker settings.
//   - logger: Logger for connection events.
//
// Returns:
//   - *Publisher: A connected publisher; Close must be called when done.
//   - error: An error if the broker cannot be reached.
func Connect(ctx context.Context, config Config, logger zerolog.Logger) (*Publisher, error) {
	if !config.Enabled() {
		return nil, errors.New("no mqtt broker configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(config.Timeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", config.Broker).Msg("mqtt connection lost")
	})

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect(), config.Timeout); err != nil {
		return nil, errors.Wrapf(err, "connect to %s", config.Broker)
	}
	return &Publisher{config: config, client: client, logger: logger}, nil
}

// Publish sends msg to the configured topic.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode run message")
	}

	token := p.client.Publish(p.config.Topic, p.config.QoS, p.config.Retain, payload)
	if err := wait(ctx, token, p.config.Timeout); err != nil {
		return errors.Wrapf(err, "publish to %s", p.config.Topic)
	}
	p.logger.Debug().Str("topic", p.config.Topic).Str("run_id", msg.RunID).Msg("run message published")
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return errors.New("timed out")
	}
}
