package boltcards

import "encoding/hex"

// ActivationResponse is the JSON a card-programming app expects from the
// activation endpoint. The key names and protocol constants are fixed by the
// bolt card programming convention, do not rename them.
type ActivationResponse struct {
	ProtocolName    string `json:"protocol_name"`
	ProtocolVersion int    `json:"protocol_version"`
	CardName        string `json:"card_name"`
	LNURLWBase      string `json:"lnurlw_base"`
	UIDPrivacy      string `json:"uid_privacy"`
	K0              string `json:"k0"`
	K1              string `json:"k1"`
	K2              string `json:"k2"`
	K3              string `json:"k3"`
	K4              string `json:"k4"`
}

// NewActivationResponse builds the programming payload for an issued card.
func NewActivationResponse(cardName, lnurlwBase string, keys CardKeys) ActivationResponse {
	return ActivationResponse{
		ProtocolName:    "create_bolt_card_response",
		ProtocolVersion: 2,
		CardName:        cardName,
		LNURLWBase:      lnurlwBase,
		UIDPrivacy:      "Y",
		K0:              hex.EncodeToString(keys.K0),
		K1:              hex.EncodeToString(keys.K1),
		K2:              hex.EncodeToString(keys.K2),
		K3:              hex.EncodeToString(keys.K3),
		K4:              hex.EncodeToString(keys.K4),
	}
}

// WipeResponse is the JSON a card-programming app expects to wipe a card.
type WipeResponse struct {
	Version int    `json:"version"`
	Action  string `json:"action"`
	K0      string `json:"k0"`
	K1      string `json:"k1"`
	K2      string `json:"k2"`
	K3      string `json:"k3"`
	K4      string `json:"k4"`
}

// NewWipeResponse builds the wipe payload from a card's derived keys.
func NewWipeResponse(keys CardKeys) WipeResponse {
	return WipeResponse{
		Version: 1,
		Action:  "wipe",
		K0:      hex.EncodeToString(keys.K0),
		K1:      hex.EncodeToString(keys.K1),
		K2:      hex.EncodeToString(keys.K2),
		K3:      hex.EncodeToString(keys.K3),
		K4:      hex.EncodeToString(keys.K4),
	}
}
