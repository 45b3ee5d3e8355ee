package auth

// TokenService defines the interface for JWT token operations.
type TokenService interface {
	GenerateToken(id Identity) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

var _ TokenService = (*JWTService)(nil)
