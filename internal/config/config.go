// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// MinAPIKeyLength 短于该长度的密钥视为未配置
const MinAPIKeyLength = 10

var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// Config 启动时从环境变量读取的配置
type Config struct {
	Port      string
	DataDir   string
	LogDir    string
	LogLevel  string
	DebugMode bool

	LLMProvider string
	LLMAPIKey   string
	LLMModel    string
	LLMBaseURL  string

	VectorEndpoint string
	VectorTimeout  time.Duration
	VectorQPS      float64

	LibraryDir      string
	LibrarySyncCron string

	ProfilePath string
	BatchDelay  time.Duration
	RedisAddr   string
}

// AppConfig 运行期可修改并持久化到 data/config.json 的部分
type AppConfig struct {
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`
}

// Load 读取 .env(可选)与环境变量
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		DataDir:   getEnvPath("DATA_DIR", "data"),
		LogDir:    getEnvPath("LOG_DIR", "logs"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		DebugMode: getEnvBool("DEBUG_MODE", false),

		LLMProvider: getEnv("LLM_PROVIDER", "glm"),
		LLMAPIKey:   getEnv("LLM_API_KEY", ""),
		LLMModel:    getEnv("LLM_MODEL", ""),
		LLMBaseURL:  getEnv("LLM_BASE_URL", ""),

		VectorEndpoint: strings.TrimRight(getEnv("VECTOR_ENDPOINT", "http://localhost:8000/clip"), "/"),
		VectorTimeout:  getEnvDuration("VECTOR_TIMEOUT", 30*time.Second),
		VectorQPS:      getEnvFloat("VECTOR_QPS", 5),

		LibraryDir:      getEnv("LIBRARY_DIR", "/data/videos"),
		LibrarySyncCron: getEnv("LIBRARY_SYNC_CRON", ""),

		ProfilePath: getEnv("MATCH_PROFILE", ""),
		BatchDelay:  time.Duration(getEnvInt("BATCH_DELAY_MS", 100)) * time.Millisecond,
		RedisAddr:   getEnv("REDIS_ADDR", ""),
	}

	if cfg.VectorQPS <= 0 {
		return nil, fmt.Errorf("VECTOR_QPS must be positive, got %v", cfg.VectorQPS)
	}
	if cfg.BatchDelay < 0 {
		return nil, fmt.Errorf("BATCH_DELAY_MS must not be negative")
	}
	return cfg, nil
}

// ResolveAPIKey 候选密钥为空或过短时使用后备密钥
func ResolveAPIKey(candidate, fallback string) string {
	candidate = strings.TrimSpace(candidate)
	if len(candidate) < MinAPIKeyLength {
		return strings.TrimSpace(fallback)
	}
	return candidate
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 返回路径并确保目录存在
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}
	return path
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

// InitConfig 以环境配置为基础，合并 data/config.json 中保存的 LLM 设置
func InitConfig(base *Config) error {
	configFile = filepath.Join(base.DataDir, "config.json")

	cfg := &AppConfig{
		LLMProvider: base.LLMProvider,
		LLMConfig: map[string]string{
			"api_key":       base.LLMAPIKey,
			"default_model": base.LLMModel,
			"base_url":      base.LLMBaseURL,
		},
	}

	if data, err := os.ReadFile(configFile); err == nil {
		var saved AppConfig
		if json.Unmarshal(data, &saved) == nil && saved.LLMProvider != "" {
			if saved.LLMConfig == nil {
				saved.LLMConfig = map[string]string{}
			}
			saved.LLMConfig["api_key"] = ResolveAPIKey(saved.LLMConfig["api_key"], base.LLMAPIKey)
			cfg = &saved
		}
	}

	configMutex.Lock()
	currentConfig = cfg
	configMutex.Unlock()

	return SaveConfig()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		return &AppConfig{LLMConfig: map[string]string{}}
	}
	cp := &AppConfig{
		LLMProvider: currentConfig.LLMProvider,
		LLMConfig:   make(map[string]string, len(currentConfig.LLMConfig)),
	}
	for k, v := range currentConfig.LLMConfig {
		cp.LLMConfig[k] = v
	}
	return cp
}

// UpdateLLMConfig 更新并保存 LLM 配置
func UpdateLLMConfig(provider string, llmConfig map[string]string) error {
	configMutex.Lock()
	if currentConfig == nil {
		configMutex.Unlock()
		return fmt.Errorf("配置系统未初始化")
	}
	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = llmConfig
	configMutex.Unlock()

	return SaveConfig()
}

// SaveConfig 写入配置文件
func SaveConfig() error {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}
	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	return os.WriteFile(configFile, data, 0600)
}
