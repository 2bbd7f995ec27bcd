package config

import (
	"log"

	"gopkg.in/yaml.v3"

	pkgconfig "workbridge/pkg/config"
)

type Config struct {
	DB     pkgconfig.DBConfig     `yaml:"db"`
	MQ     pkgconfig.MQConfig     `yaml:"mq"`
	Redis  pkgconfig.RedisConfig  `yaml:"redis"`
	JWT    pkgconfig.JWTConfig    `yaml:"jwt"`
	Server pkgconfig.ServerConfig `yaml:"server"`
	Escrow pkgconfig.EscrowConfig `yaml:"escrow"`
}

func Load() *Config {
	// 使用统一配置中心：base.yaml + 环境覆盖 + secrets.env
	env := pkgconfig.GetConfigEnv()
	configDir := pkgconfig.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := pkgconfig.LoadConfig(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 转换为 Config 结构
	var cfg Config
	cfgData, err := yaml.Marshal(cfgMap)
	if err != nil {
		log.Fatalf("failed to marshal config: %v", err)
	}
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	// 环境变量覆盖（优先级最高）
	pkgconfig.OverrideDBFromEnv(&cfg.DB)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideJWTFromEnv(&cfg.JWT)
	pkgconfig.OverrideServerFromEnv(&cfg.Server)
	pkgconfig.OverrideEscrowFromEnv(&cfg.Escrow)

	return &cfg
}
