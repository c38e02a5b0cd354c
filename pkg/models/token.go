package models

// TokenPair is the credential issued by the identity provider.
// ExpiresIn is advisory; expiry is detected from a 401.
type TokenPair struct {
	AccessToken   string `json:"access_token" bson:"access_token"`
	RefreshToken  string `json:"refresh_token" bson:"refresh_token"`
	ExpiresIn     int64  `json:"expires_in,omitempty" bson:"expires_in,omitempty"`
	OwnerIdentity string `json:"owner_identity,omitempty" bson:"owner_identity,omitempty"`
}

// Valid reports whether the pair carries both tokens
func (p *TokenPair) Valid() bool {
	return p != nil && p.AccessToken != "" && p.RefreshToken != ""
}

// Clone returns a copy that the caller may keep
func (p *TokenPair) Clone() *TokenPair {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
