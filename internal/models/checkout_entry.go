package models

import "time"

// CheckoutEntry 会话持久化条目，一个命名空间下每个键一行
type CheckoutEntry struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Namespace string    `gorm:"size:128;not null;uniqueIndex:idx_checkout_entry_ns_key" json:"namespace"`
	Key       string    `gorm:"column:entry_key;size:64;not null;uniqueIndex:idx_checkout_entry_ns_key" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// TableName 指定表名
func (CheckoutEntry) TableName() string {
	return "checkout_entries"
}
