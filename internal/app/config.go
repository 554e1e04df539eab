package app

import (
	"github.com/flowmium/flowmium/internal/pkg/logger"
	"github.com/flowmium/flowmium/internal/utils"
)

// Config holds every FLOWMIUM_* environment variable named in SPEC_FULL §6,
// loaded the way the teacher's internal/app/config.go loads its own
// Config: small utils.GetEnv/GetEnvAsInt helpers, no struct tags.
type Config struct {
	Port int

	PostgresURL string

	StoreURL         string
	TaskStoreURL     string
	BucketName       string
	AccessKey        string
	SecretKey        string
	InitContainerImg string
	Namespace        string
	FlowIDLabel      string
	TaskIDLabel      string
}

const (
	defaultFlowIDLabel = "flowmium.io/flow-id"
	defaultTaskIDLabel = "flowmium.io/task-id"
)

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Port: utils.GetEnvAsInt("FLOWMIUM_PORT", 8080, log),

		PostgresURL: utils.GetEnv("FLOWMIUM_POSTGRES_URL", "postgres://postgres@localhost:5432/flowmium?sslmode=disable", log),

		StoreURL:         utils.GetEnv("FLOWMIUM_STORE_URL", "http://localhost:9000", log),
		TaskStoreURL:     utils.GetEnv("FLOWMIUM_TASK_STORE_URL", "http://localhost:9000", log),
		BucketName:       utils.GetEnv("FLOWMIUM_BUCKET_NAME", "flowmium", log),
		AccessKey:        utils.GetEnv("FLOWMIUM_ACCESS_KEY", "", log),
		SecretKey:        utils.GetEnv("FLOWMIUM_SECRET_KEY", "", log),
		InitContainerImg: utils.GetEnv("FLOWMIUM_INIT_CONTAINER_IMAGE", "flowmium/flowmium:latest", log),
		Namespace:        utils.GetEnv("FLOWMIUM_NAMESPACE", "default", log),
		FlowIDLabel:      utils.GetEnv("FLOWMIUM_FLOW_ID_LABEL", defaultFlowIDLabel, log),
		TaskIDLabel:      utils.GetEnv("FLOWMIUM_TASK_ID_LABEL", defaultTaskIDLabel, log),
	}
}
