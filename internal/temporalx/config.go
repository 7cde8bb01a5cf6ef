package temporalx

import (
	"time"

	"github.com/yungbote/chorus-backend/internal/platform/envutil"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	DialTimeout     time.Duration
	DialMaxWait     time.Duration
	AutoRegister    bool
	RetentionDays   int
	WorkflowTimeout time.Duration
}

func LoadConfig() Config {
	return Config{
		Address:   envutil.String("TEMPORAL_ADDRESS", ""),
		Namespace: envutil.String("TEMPORAL_NAMESPACE", "chorus"),
		TaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", "chorus-workflows"),

		ClientCertPath: envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),

		DialTimeout:     envutil.Duration("TEMPORAL_DIAL_TIMEOUT", 5*time.Second),
		DialMaxWait:     envutil.Duration("TEMPORAL_DIAL_MAX_WAIT", 30*time.Second),
		AutoRegister:    envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		RetentionDays:   envutil.Int("TEMPORAL_NAMESPACE_RETENTION_DAYS", 7),
		WorkflowTimeout: envutil.Duration("TEMPORAL_WORKFLOW_TOOL_TIMEOUT", 2*time.Minute),
	}
}
