package service

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gym-coach-go/internal/config"
	"gym-coach-go/pkg/log"
	"gym-coach-go/pkg/token"
)

// ErrInvalidClient 表示服务账号不存在或密钥错误，两种情况对外不区分。
var ErrInvalidClient = errors.New("invalid client credentials")

// ServiceToken 是签发给服务账号的 token。
type ServiceToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	Scopes      []string  `json:"scopes"`
}

// ServiceAuthService 为内部服务账号签发带 scope 的 token。
type ServiceAuthService interface {
	IssueToken(clientID, secret string) (*ServiceToken, error)
}

type serviceAuthService struct {
	accounts   map[string]config.ServiceAccountConfig
	jwtManager *token.JWTManager
	// dummyHash 用于账号不存在时也执行一次 bcrypt 比较
	dummyHash []byte
}

// NewServiceAuthService 创建一个新的 ServiceAuthService。
func NewServiceAuthService(accounts []config.ServiceAccountConfig, jwtManager *token.JWTManager) ServiceAuthService {
	byID := make(map[string]config.ServiceAccountConfig, len(accounts))
	for _, a := range accounts {
		byID[a.ClientID] = a
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-secret"), bcrypt.MinCost)
	return &serviceAuthService{accounts: byID, jwtManager: jwtManager, dummyHash: dummy}
}

func (s *serviceAuthService) IssueToken(clientID, secret string) (*ServiceToken, error) {
	account, ok := s.accounts[clientID]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(secret))
		log.Warnf("[ServiceAuth] 未知的服务账号: %s", clientID)
		return nil, ErrInvalidClient
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.SecretHash), []byte(secret)); err != nil {
		log.Warnf("[ServiceAuth] 服务账号密钥校验失败: %s", clientID)
		return nil, ErrInvalidClient
	}

	tok, err := s.jwtManager.GenerateServiceToken(clientID, account.Scopes)
	if err != nil {
		return nil, err
	}
	ttl := s.jwtManager.ServiceTokenTTL()
	log.Infof("[ServiceAuth] 为 %s 签发 token, scopes=%v", clientID, account.Scopes)
	return &ServiceToken{
		AccessToken: tok,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
		ExpiresAt:   time.Now().Add(ttl).UTC(),
		Scopes:      account.Scopes,
	}, nil
}
