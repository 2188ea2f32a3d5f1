package main

import (
	"encoding/json"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/recibo-network/recibo-go/pkg/logger"
	"github.com/recibo-network/recibo-go/pkg/typeddata"
	"github.com/recibo-network/recibo-go/pkg/types"
)

// Signs a message record for delegated submission and prints the wire-form
// JSON, ready for POST /msg via curl.
//
// Required environment:
//
//	PRIVATE_KEY       hex-encoded secp256k1 key of the message principal
//	MESSAGE_TO        recipient address
//	MESSAGE           payload (utf-8)
//	NONCE             32-byte hex nonce, unused for this signer
//	CHAIN_ID          domain chain id (default 31337)
//	VERIFYING_CONTRACT address of the deployed verifying contract
func main() {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	keyHex := strings.TrimPrefix(os.Getenv("PRIVATE_KEY"), "0x")
	if keyHex == "" {
		l.Sugar().Fatal("PRIVATE_KEY environment variable is not set")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		l.Sugar().Fatalw("failed to parse private key", "error", err)
	}
	principal := crypto.PubkeyToAddress(key.PublicKey)

	if !common.IsHexAddress(os.Getenv("MESSAGE_TO")) {
		l.Sugar().Fatal("MESSAGE_TO must be a hex address")
	}
	if !common.IsHexAddress(os.Getenv("VERIFYING_CONTRACT")) {
		l.Sugar().Fatal("VERIFYING_CONTRACT must be a hex address")
	}

	chainID := big.NewInt(31337)
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, ok := new(big.Int).SetString(v, 10)
		if !ok {
			l.Sugar().Fatalw("failed to parse chain id", "value", v)
		}
		chainID = id
	}

	record := &types.ReciboInfo{
		MessageFrom: principal,
		MessageTo:   common.HexToAddress(os.Getenv("MESSAGE_TO")),
		Metadata:    `{"encryption":"none"}`,
		Message:     []byte(os.Getenv("MESSAGE")),
		Nonce:       common.HexToHash(os.Getenv("NONCE")),
	}

	domain := typeddata.Domain{
		Name:              "Recibo",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(os.Getenv("VERIFYING_CONTRACT")),
	}

	digest := typeddata.Digest(domain, record)
	record.Signature, err = crypto.Sign(digest[:], key)
	if err != nil {
		l.Sugar().Fatalw("failed to sign record", "error", err)
	}

	wire := types.ReciboInfoV1{
		MessageFrom: record.MessageFrom,
		MessageTo:   record.MessageTo,
		Metadata:    record.Metadata,
		Message:     record.Message,
		Nonce:       record.Nonce,
		Signature:   record.Signature,
	}

	out, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		l.Sugar().Fatalw("failed to encode record", "error", err)
	}

	l.Sugar().Infow("Record signed", "messageFrom", principal.Hex())
	os.Stdout.Write(out)
	os.Stdout.Write([]byte("\n"))
}
