package api

// MessageResponse is the body of every error and of plain acknowledgements.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token for later requests.
type LoginResponse struct {
	Message   string `json:"message"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// KeychainRequest is the body of POST /keychain.
type KeychainRequest struct {
	KeychainData string `json:"keychainData"`
}

// KeychainResponse returns an encrypted item as hex.
type KeychainResponse struct {
	Message string `json:"message"`
	Item    string `json:"item"`
}

// DecryptRequest is the body of POST /keychain/decrypt.
type DecryptRequest struct {
	Item string `json:"item"`
}

// DecryptResponse returns the decrypted keychain data.
type DecryptResponse struct {
	Message      string `json:"message"`
	KeychainData string `json:"keychainData"`
}

// FilesResponse lists the entries of the files directory.
type FilesResponse struct {
	Message string   `json:"message"`
	Files   []string `json:"files"`
}
