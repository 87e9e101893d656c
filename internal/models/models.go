// Package models はデータベースに保存するレコードの定義です。
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobStatus は ProcessingJob の状態です。
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobPartial    JobStatus = "partial"
)

// Terminal は終端状態かどうかを返します。
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobPartial:
		return true
	default:
		return false
	}
}

// User はサービスの利用者です。
type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Name         string    `gorm:"size:255" json:"name"`
	Email        string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Image        string    `gorm:"size:1024" json:"image"`
	PasswordHash string    `gorm:"size:255" json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PDFFile はアップロードされたファイルです。作成後は更新しません。
type PDFFile struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	OriginalName   string    `gorm:"size:255;not null" json:"originalName"`
	StoredFileName string    `gorm:"size:255;not null" json:"storedFileName"`
	FilePath       string    `gorm:"size:1024;not null" json:"filePath"`
	FileSize       int64     `gorm:"not null" json:"fileSize"`
	MimeType       string    `gorm:"size:100;not null" json:"mimeType"`
	Pages          int       `gorm:"not null;default:0" json:"pages"`
	Encrypted      bool      `gorm:"not null;default:false" json:"encrypted"` // 保存時に暗号化したか
	Status         string    `gorm:"size:32;not null;default:uploaded" json:"status"`
	UserID         *string   `gorm:"size:36;index" json:"userId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ProcessingJob は1回のPDF処理の状態を表します。
type ProcessingJob struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	FileIDs     string     `gorm:"type:text;not null" json:"fileIds"` // JSON配列
	Operation   string     `gorm:"size:64;not null;index" json:"operation"`
	Parameters  string     `gorm:"type:text" json:"parameters"` // JSON
	Status      JobStatus  `gorm:"size:16;not null;index" json:"status"`
	Progress    int        `gorm:"not null;default:0" json:"progress"`
	Error       *string    `gorm:"type:text" json:"error"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	UserID      *string    `gorm:"size:36;index" json:"userId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ProcessingHistory は処理結果の監査ログです。追記のみで更新しません。
type ProcessingHistory struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	UserID     *string   `gorm:"size:36;index" json:"userId"`
	JobID      string    `gorm:"size:36;not null;index" json:"jobId"`
	FileID     *string   `gorm:"size:36" json:"fileId"`
	Operation  string    `gorm:"size:64;not null" json:"operation"`
	Status     string    `gorm:"size:16;not null" json:"status"`
	Parameters string    `gorm:"type:text" json:"parameters"`
	Result     *string   `gorm:"type:text" json:"result"`
	Error      *string   `gorm:"type:text" json:"error"`
	IPAddress  string    `gorm:"size:64" json:"ipAddress"`
	UserAgent  string    `gorm:"size:512" json:"userAgent"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// TableName は履歴テーブル名を固定します。
func (ProcessingHistory) TableName() string {
	return "processing_history"
}

// Subscription は利用者の購読状態です。
type Subscription struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	UserID            string    `gorm:"size:36;not null;index" json:"userId"`
	Status            string    `gorm:"size:32;not null" json:"status"`
	CancelAtPeriodEnd bool      `gorm:"not null;default:false" json:"cancelAtPeriodEnd"`
	CurrentPeriodEnd  time.Time `json:"currentPeriodEnd"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// SubscriptionActive は有効な購読の状態値です。
const SubscriptionActive = "active"

func (u *User) BeforeCreate(*gorm.DB) error              { assignID(&u.ID); return nil }
func (f *PDFFile) BeforeCreate(*gorm.DB) error           { assignID(&f.ID); return nil }
func (j *ProcessingJob) BeforeCreate(*gorm.DB) error     { assignID(&j.ID); return nil }
func (h *ProcessingHistory) BeforeCreate(*gorm.DB) error { assignID(&h.ID); return nil }
func (s *Subscription) BeforeCreate(*gorm.DB) error      { assignID(&s.ID); return nil }

func assignID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// All はマイグレーション対象のモデル一覧です。
func All() []any {
	return []any{&User{}, &PDFFile{}, &ProcessingJob{}, &ProcessingHistory{}, &Subscription{}}
}
