package domain

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"rookery/internal/security"
)

// ProxyRecord is one outbound proxy endpoint plus its live health state.
// Identity is (host, port, protocol); everything under the health comment is
// mutable and owned by the pool store.
type ProxyRecord struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement"`
	Host              string `gorm:"not null;size:255;uniqueIndex:idx_proxy_identity,priority:1"`
	Port              uint16 `gorm:"not null;uniqueIndex:idx_proxy_identity,priority:2"`
	Protocol          string `gorm:"not null;size:8;default:'http';uniqueIndex:idx_proxy_identity,priority:3"`
	Username          string `gorm:"size:120;default:''"`
	Password          string `gorm:"-" json:"-"`
	PasswordEncrypted string `gorm:"column:password;default:''" json:"-"`
	Country           string `gorm:"size:8;default:''"`
	City              string `gorm:"size:120;default:''"`

	// Health state.
	ConsecutiveFailures uint `gorm:"not null;default:0"`
	LastCheckedAt       *time.Time
	LastLatencyMs       *int64
	Disabled            bool   `gorm:"not null;default:false"`
	LastError           string `gorm:"size:512;default:''"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (ProxyRecord) TableName() string {
	return "proxy_records"
}

func (p *ProxyRecord) BeforeSave(_ *gorm.DB) error {
	p.Protocol = strings.ToLower(strings.TrimSpace(p.Protocol))
	if p.Protocol == "" {
		p.Protocol = "http"
	}
	p.Country = strings.ToUpper(strings.TrimSpace(p.Country))

	if p.Password != "" {
		encrypted, err := security.EncryptProxySecret(p.Password)
		if err != nil {
			return err
		}
		p.PasswordEncrypted = encrypted
	}
	return nil
}

func (p *ProxyRecord) AfterFind(_ *gorm.DB) error {
	if p.PasswordEncrypted == "" {
		p.Password = ""
		return nil
	}

	password, err := security.DecryptProxySecret(p.PasswordEncrypted)
	if err != nil {
		return err
	}
	p.Password = password
	return nil
}

// Key identifies the proxy independently of its database ID.
func (p ProxyRecord) Key() string {
	return fmt.Sprintf("%s:%d:%s", strings.ToLower(strings.TrimSpace(p.Host)), p.Port, strings.ToLower(strings.TrimSpace(p.Protocol)))
}

func (p ProxyRecord) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

func (p ProxyRecord) HasAuth() bool {
	return p.Username != "" && p.Password != ""
}

// URL renders the proxy as scheme://[user:pass@]host:port.
func (p ProxyRecord) URL() string {
	if p.HasAuth() {
		return fmt.Sprintf("%s://%s:%s@%s", p.Protocol, p.Username, p.Password, p.Address())
	}
	return fmt.Sprintf("%s://%s", p.Protocol, p.Address())
}

// LastLatency reports the most recent probe latency, if one was measured.
func (p ProxyRecord) LastLatency() (time.Duration, bool) {
	if p.LastLatencyMs == nil {
		return 0, false
	}
	return time.Duration(*p.LastLatencyMs) * time.Millisecond, true
}
