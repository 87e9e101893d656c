// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// セキュリティ設定
	SessionSecret  string // セッション署名用の秘密鍵
	EncryptionKey  string // アップロード暗号化鍵とダウンロードトークン署名鍵の元になる鍵素材
	EncryptUploads bool   // アップロードを AES-256-GCM で暗号化して保存するか

	// サーバー設定
	Port     string // APIサーバーのポート番号
	GinMode  string // Ginの実行モード (debug, release, test)
	LogLevel string // ログレベル (debug, info, warn, error)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// データベース設定
	DatabaseDriver string // postgres または sqlite
	DatabaseURL    string // 接続文字列（sqlite の場合はファイルパス）
	AutoMigrate    bool   // 起動時にスキーマを自動作成するか

	// ファイル設定
	UploadDir        string        // アップロードファイルの保存先
	OutputDir        string        // 生成ファイルの保存先
	MaxFileSize      int64         // 単一ファイルの最大サイズ（バイト）
	AllowedMIMETypes []string      // アップロードを許可する MIME タイプ
	FileRetention    time.Duration // ファイルの保持期間
	SweepInterval    time.Duration // 期限切れファイル削除の実行間隔

	// ダウンロード設定
	DownloadTokenTTL time.Duration // ダウンロードトークンの有効期間

	// レート制限
	UploadRateLimit    int
	UploadRateWindow   time.Duration
	DownloadRateLimit  int
	DownloadRateWindow time.Duration

	// ジョブ設定
	RedisURL          string        // 空の場合はプロセス内実装を利用
	JobTimeout        time.Duration // アダプター呼び出しのタイムアウト
	BatchConcurrency  int           // バッチ処理の同時実行数
	WorkerConcurrency int           // キューワーカーの同時実行数

	// PDF処理設定
	GhostscriptPath string // Ghostscript実行ファイルのパス（空ならpdfcpuで圧縮）
	PdftoppmPath    string // OCR用ラスタライズに使う pdftoppm のパス（空ならpdfcpuで画像抽出）
	TesseractLang   string // OCRの既定言語

	// GCP設定（本番環境用）
	GCSBucket string // 生成ファイルのミラー先バケット（空なら複製しない）
	GCSPrefix string // バケット内のオブジェクト接頭辞
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		SessionSecret:  getEnv("SESSION_SECRET", ""),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		EncryptUploads: getEnvAsBool("ENCRYPT_UPLOADS", true),

		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    getEnv("DATABASE_URL", "easypdf.db"),
		AutoMigrate:    getEnvAsBool("DB_AUTO_MIGRATE", true),

		UploadDir:        getEnv("UPLOAD_DIR", "uploads"),
		OutputDir:        getEnv("OUTPUT_DIR", "outputs"),
		MaxFileSize:      getEnvAsInt64("MAX_FILE_SIZE", 52428800), // 50MB
		AllowedMIMETypes: getEnvAsList("ALLOWED_MIME_TYPES", []string{"application/pdf"}),
		FileRetention:    getEnvAsDuration("FILE_RETENTION", time.Hour),
		SweepInterval:    getEnvAsDuration("SWEEP_INTERVAL", 10*time.Minute),

		DownloadTokenTTL: getEnvAsDuration("DOWNLOAD_TOKEN_TTL", time.Hour),

		UploadRateLimit:    getEnvAsInt("UPLOAD_RATE_LIMIT", 10),
		UploadRateWindow:   getEnvAsDuration("UPLOAD_RATE_WINDOW", time.Minute),
		DownloadRateLimit:  getEnvAsInt("DOWNLOAD_RATE_LIMIT", 50),
		DownloadRateWindow: getEnvAsDuration("DOWNLOAD_RATE_WINDOW", 5*time.Minute),

		RedisURL:          getEnv("REDIS_URL", ""),
		JobTimeout:        getEnvAsDuration("JOB_TIMEOUT", 2*time.Minute),
		BatchConcurrency:  getEnvAsInt("BATCH_CONCURRENCY", 4),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),

		GhostscriptPath: getEnv("GHOSTSCRIPT_PATH", ""),
		PdftoppmPath:    getEnv("PDFTOPPM_PATH", ""),
		TesseractLang:   getEnv("TESSERACT_LANG", "eng"),

		GCSBucket: getEnv("GCS_BUCKET", ""),
		GCSPrefix: getEnv("GCS_PREFIX", "outputs"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite (got %q)", c.DatabaseDriver)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if len(c.AllowedMIMETypes) == 0 {
		return fmt.Errorf("ALLOWED_MIME_TYPES must not be empty")
	}
	if c.UploadDir == "" || c.OutputDir == "" {
		return fmt.Errorf("UPLOAD_DIR and OUTPUT_DIR are required")
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 1
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 1
	}

	// 本番環境では鍵素材と接続先を必須にする
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required in release mode")
		}
		if c.DatabaseDriver == "postgres" && c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は "90s" や "5m" 形式の環境変数を取得します。
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数をスライスで取得します。
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
