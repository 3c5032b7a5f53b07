package explorer

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/doichain/go-sdk/internal/utils"
)

// normalizeTx turns what a wallet hands to Broadcast into the raw hex the
// electrum server accepts, together with its txid. Raw hex is returned
// re-serialized; a base64 PSBT must be finalized so that the signed
// transaction can be extracted from it.
func normalizeTx(encoded string) (txHex, txid string, err error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return "", "", fmt.Errorf("empty transaction")
	}

	tx, hexErr := utils.DecodeTx(encoded)
	if hexErr != nil {
		tx, err = extractFinalized(encoded)
		if err != nil {
			return "", "", fmt.Errorf("neither raw hex (%s) nor a finalized psbt (%s)", hexErr, err)
		}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(buf.Bytes()), tx.TxHash().String(), nil
}

func extractFinalized(b64 string) (*wire.MsgTx, error) {
	ptx, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	if err != nil {
		return nil, err
	}
	return psbt.Extract(ptx)
}
