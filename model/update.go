package model

// UpdateImage is a firmware update request: the image bytes plus an
// Ed25519 signature over them.
type UpdateImage struct {
	Version   string
	Image     []byte
	Signature []byte
}

func (UpdateImage) Kind() PayloadKind { return KindRecord }

// UpdateResult classifies the terminal outcome of one update attempt.
type UpdateResult string

const (
	UpdateInstalled         UpdateResult = "installed"
	UpdateSignatureRejected UpdateResult = "signature-rejected"
	UpdateRolledBack        UpdateResult = "rolled-back"
)

// UpdateStatus is the gateway's update progress/outcome broadcast.
type UpdateStatus struct {
	State   string
	Result  UpdateResult
	Version string
}

func (UpdateStatus) Kind() PayloadKind { return KindRecord }
