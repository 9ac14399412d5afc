// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// token 类型，防止用户 token 被当作服务 token 使用，反之亦然。
const (
	TypeUser    = "user"
	TypeService = "service"
)

// ScopeSync 允许触发同步与管理 embedding 缓存。
const ScopeSync = "rag:sync"

var ErrWrongTokenType = errors.New("wrong token type")

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey       []byte
	accessTokenDur  time.Duration
	serviceTokenDur time.Duration
	now             func() time.Time
}

// UserClaims 是 App 用户 token 中的数据。
type UserClaims struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// ServiceClaims 是内部服务 token 中的数据。
type ServiceClaims struct {
	ClientID string   `json:"clientId"`
	Scopes   []string `json:"scopes"`
	Type     string   `json:"typ"`
	jwt.RegisteredClaims
}

// HasScope 判断 token 是否包含指定 scope。
func (c *ServiceClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// NewJWTManager 创建一个新的 JWTManager 实例。
// accessTokenExpireHours: 用户 token 的有效期（小时）。
// serviceTokenExpireMinutes: 服务 token 的有效期（分钟）。
func NewJWTManager(secret string, accessTokenExpireHours, serviceTokenExpireMinutes int) *JWTManager {
	return &JWTManager{
		secretKey:       []byte(secret),
		accessTokenDur:  time.Hour * time.Duration(accessTokenExpireHours),
		serviceTokenDur: time.Minute * time.Duration(serviceTokenExpireMinutes),
		now:             time.Now,
	}
}

// ServiceTokenTTL 返回服务 token 的有效期。
func (m *JWTManager) ServiceTokenTTL() time.Duration {
	return m.serviceTokenDur
}

func (m *JWTManager) registered(subject string, dur time.Duration) jwt.RegisteredClaims {
	now := m.now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(dur)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
}

// GenerateToken 生成一个用户 access token。
// 正常情况下用户 token 由主后端签发，这里主要用于本地调试和测试。
func (m *JWTManager) GenerateToken(userID int64, username, role string) (string, error) {
	claims := UserClaims{
		UserID:           userID,
		Username:         username,
		Role:             role,
		Type:             TypeUser,
		RegisteredClaims: m.registered(username, m.accessTokenDur),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// GenerateServiceToken 为服务账号签发带 scope 的 token。
func (m *JWTManager) GenerateServiceToken(clientID string, scopes []string) (string, error) {
	claims := ServiceClaims{
		ClientID:         clientID,
		Scopes:           scopes,
		Type:             TypeService,
		RegisteredClaims: m.registered(clientID, m.serviceTokenDur),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// VerifyToken 验证用户 token，返回其中的 claims。
func (m *JWTManager) VerifyToken(tokenString string) (*UserClaims, error) {
	claims := &UserClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeUser {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// VerifyServiceToken 验证服务 token。
func (m *JWTManager) VerifyServiceToken(tokenString string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	if err := m.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeService {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

func (m *JWTManager) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// 只接受 HMAC 签名
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}
