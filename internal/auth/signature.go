package auth

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrSignatureMismatch = errors.New("signature does not match address")

// SignInMessage is the text a wallet signs with personal_sign to log in.
func SignInMessage(address common.Address, nonce string) string {
	return fmt.Sprintf("Sign in to swap-desk\n\nAddress: %s\nNonce: %s", address.Hex(), nonce)
}

// VerifySignature checks a 65-byte personal_sign signature over message.
// Both the 0/1 and 27/28 recovery id conventions are accepted.
func VerifySignature(address common.Address, message, signature string) error {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	if crypto.PubkeyToAddress(*pub) != address {
		return ErrSignatureMismatch
	}
	return nil
}
