package model

import (
	"time"
)

// 消息类型
const (
	MessageTypeCouncil = "council" // 完整议会流程结果
	MessageTypeSpeaker = "speaker" // 发言人追问回复
)

type Conversation struct {
	ID               string     `json:"id" gorm:"primaryKey;size:64"` // UUID
	Title            string     `json:"title" gorm:"size:255"`
	Mode             string     `json:"mode" gorm:"size:50;default:council"`
	SettingsSnapshot string     `json:"-" gorm:"type:text"` // 创建时锁定的议会配置快照（JSON）
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty" gorm:"index"` // 软删除（回收站）
	Messages         []Message  `json:"messages,omitempty" gorm:"foreignKey:ConversationID"`
}

type Message struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	ConversationID  string    `json:"conversation_id" gorm:"index;size:64;not null"`
	Role            string    `json:"role" gorm:"size:20;not null"` // user, assistant
	Content         string    `json:"content,omitempty" gorm:"type:text"`
	MessageType     string    `json:"message_type,omitempty" gorm:"size:20"` // council, speaker
	StagesJSON      string    `json:"-" gorm:"type:text"`                    // 议会各阶段结果（JSON）
	MetadataJSON    string    `json:"-" gorm:"type:text"`                    // label_to_model、aggregate_rankings（JSON）
	SpeakerResponse string    `json:"response,omitempty" gorm:"type:text"`
	TokenCount      int       `json:"token_count" gorm:"default:0"`
	CreatedAt       time.Time `json:"created_at"`
}

// SettingsRecord 议会配置单行记录，固定 ID=1
type SettingsRecord struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	SettingsJSON string    `json:"-" gorm:"type:text;not null"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Preset struct {
	ID           string    `json:"id" gorm:"primaryKey;size:64"` // UUID
	Name         string    `json:"name" gorm:"size:255;not null;uniqueIndex"`
	SettingsJSON string    `json:"-" gorm:"type:text;not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RunUsage 单次议会运行的用量记录
type RunUsage struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"index;size:64;not null"`
	StageCount     int       `json:"stage_count" gorm:"default:0"`
	TokenCount     int       `json:"token_count" gorm:"default:0"` // 估算值
	CreatedAt      time.Time `json:"created_at"`
}
