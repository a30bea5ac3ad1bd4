package middleware

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/oportunyfam/chatsync/pkg/errcode"
	"github.com/oportunyfam/chatsync/pkg/jwt"
	"github.com/oportunyfam/chatsync/pkg/response"
)

const (
	// AuthorizationHeader is the header key for authorization
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer token
	BearerPrefix = "Bearer "
	// UserIdKey is the context key for user Id
	UserIdKey = "user_id"
	// AccountTypeKey is the context key for the account type ("tipo")
	AccountTypeKey = "account_type"
)

// JWTAuth is the JWT authentication middleware
func JWTAuth(secret string) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		authHeader := string(c.GetHeader(AuthorizationHeader))
		if authHeader == "" {
			response.Error(ctx, c, errcode.ErrTokenMissing)
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			response.Error(ctx, c, errcode.ErrTokenInvalid)
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(strings.TrimPrefix(authHeader, BearerPrefix), secret)
		if err != nil {
			response.Error(ctx, c, err)
			c.Abort()
			return
		}

		c.Set(UserIdKey, claims.UserId)
		c.Set(AccountTypeKey, claims.AccountType)

		c.Next(ctx)
	}
}

// GetUserId gets user Id from context
func GetUserId(c *app.RequestContext) int64 {
	if v, ok := c.Get(UserIdKey); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// GetAccountType gets the account type from context
func GetAccountType(c *app.RequestContext) string {
	return c.GetString(AccountTypeKey)
}
