package jwttoken

import "aeroinsight/internal/identity/models"

// PrincipalVerifier adapts JWTService to the session middleware, which only
// needs the authenticated principal.
type PrincipalVerifier struct {
	service *JWTService
}

func NewPrincipalVerifier(service *JWTService) *PrincipalVerifier {
	return &PrincipalVerifier{service: service}
}

func (v *PrincipalVerifier) VerifyToken(tokenString string) (models.Principal, error) {
	claims, err := v.service.ValidateToken(tokenString)
	if err != nil {
		return models.Principal{}, err
	}
	return models.Principal{UID: claims.Subject, Email: claims.Email}, nil
}
