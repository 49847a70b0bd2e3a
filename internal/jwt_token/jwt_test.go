package jwttoken

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	dErrors "vaxledger/pkg/domain-errors"
)

type JWTServiceSuite struct {
	suite.Suite
	svc *JWTService
}

func TestJWTServiceSuite(t *testing.T) {
	suite.Run(t, new(JWTServiceSuite))
}

func (s *JWTServiceSuite) SetupTest() {
	s.svc = NewJWTService("test-signing-key", "vaxledger-auth", "vaxledger")
}

func (s *JWTServiceSuite) TestValidateToken() {
	s.Run("round trips actor and role", func() {
		actor := uuid.New()
		token, err := s.svc.GenerateAccessToken(actor, "doctor", time.Minute)
		s.Require().NoError(err)

		claims, err := s.svc.ValidateToken(token)
		s.Require().NoError(err)
		s.Equal(actor.String(), claims.ActorID)
		s.Equal("doctor", claims.Role)
		s.NotEmpty(claims.JTI)
	})

	s.Run("rejects expired token", func() {
		token, err := s.svc.GenerateAccessToken(uuid.New(), "parent", -time.Minute)
		s.Require().NoError(err)

		_, err = s.svc.ValidateToken(token)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("rejects token signed with another key", func() {
		other := NewJWTService("other-key", "vaxledger-auth", "vaxledger")
		token, err := other.GenerateAccessToken(uuid.New(), "doctor", time.Minute)
		s.Require().NoError(err)

		_, err = s.svc.ValidateToken(token)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("rejects wrong audience", func() {
		other := NewJWTService("test-signing-key", "vaxledger-auth", "someone-else")
		token, err := other.GenerateAccessToken(uuid.New(), "doctor", time.Minute)
		s.Require().NoError(err)

		_, err = s.svc.ValidateToken(token)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
