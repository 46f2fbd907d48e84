package attest

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"liquidityAgent/internal/model"
)

const easABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "recipient", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "attester", "type": "address"},
      {"indexed": false, "internalType": "bytes32", "name": "uid", "type": "bytes32"},
      {"indexed": true, "internalType": "bytes32", "name": "schemaUID", "type": "bytes32"}
    ],
    "name": "Attested",
    "type": "event"
  },
  {
    "inputs": [{"internalType": "bytes32", "name": "uid", "type": "bytes32"}],
    "name": "getAttestation",
    "outputs": [
      {
        "components": [
          {"internalType": "bytes32", "name": "uid", "type": "bytes32"},
          {"internalType": "bytes32", "name": "schema", "type": "bytes32"},
          {"internalType": "uint64", "name": "time", "type": "uint64"},
          {"internalType": "uint64", "name": "expirationTime", "type": "uint64"},
          {"internalType": "uint64", "name": "revocationTime", "type": "uint64"},
          {"internalType": "bytes32", "name": "refUID", "type": "bytes32"},
          {"internalType": "address", "name": "recipient", "type": "address"},
          {"internalType": "address", "name": "attester", "type": "address"},
          {"internalType": "bool", "name": "revocable", "type": "bool"},
          {"internalType": "bytes", "name": "data", "type": "bytes"}
        ],
        "internalType": "struct Attestation",
        "name": "",
        "type": "tuple"
      }
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	easOnce sync.Once
	easABI  abi.ABI
	easErr  error

	predictionArgs abi.Arguments
)

func init() {
	uint256, _ := abi.NewType("uint256", "", nil)
	address, _ := abi.NewType("address", "", nil)
	bytes32, _ := abi.NewType("bytes32", "", nil)
	uint160, _ := abi.NewType("uint160", "", nil)
	str, _ := abi.NewType("string", "", nil)
	predictionArgs = abi.Arguments{
		{Name: "marketId", Type: uint256},
		{Name: "marketAddress", Type: address},
		{Name: "questionId", Type: bytes32},
		{Name: "prediction", Type: uint160},
		{Name: "comment", Type: str},
	}
}

// EASABI returns the parsed attestation service ABI subset.
func EASABI() (abi.ABI, error) {
	easOnce.Do(func() {
		easABI, easErr = abi.JSON(strings.NewReader(easABIJSON))
	})
	return easABI, easErr
}

// Attestation mirrors the attestation service record.
type Attestation struct {
	UID            [32]byte `abi:"uid"`
	Schema         [32]byte
	Time           uint64
	ExpirationTime uint64
	RevocationTime uint64
	RefUID         [32]byte
	Recipient      common.Address
	Attester       common.Address
	Revocable      bool
	Data           []byte
}

// Revoked reports whether the attestation was revoked.
func (a Attestation) Revoked() bool {
	return a.RevocationTime != 0
}

// Prediction is the decoded attestation payload.
type Prediction struct {
	MarketID      *big.Int
	MarketAddress common.Address
	QuestionID    [32]byte
	SqrtPriceX96  *big.Int
	Comment       string
}

// DecodePrediction decodes the schema payload of an attestation.
func DecodePrediction(data []byte) (Prediction, error) {
	values, err := predictionArgs.Unpack(data)
	if err != nil {
		return Prediction{}, model.NewDecodeError("attestation", "data", "%v", err)
	}
	if len(values) != len(predictionArgs) {
		return Prediction{}, model.NewDecodeError("attestation", "data", "expected %d fields, got %d", len(predictionArgs), len(values))
	}
	marketID, ok := values[0].(*big.Int)
	if !ok {
		return Prediction{}, model.NewDecodeError("attestation", "marketId", "unexpected type %T", values[0])
	}
	marketAddress, ok := values[1].(common.Address)
	if !ok {
		return Prediction{}, model.NewDecodeError("attestation", "marketAddress", "unexpected type %T", values[1])
	}
	questionID, ok := values[2].([32]byte)
	if !ok {
		return Prediction{}, model.NewDecodeError("attestation", "questionId", "unexpected type %T", values[2])
	}
	prediction, ok := values[3].(*big.Int)
	if !ok {
		return Prediction{}, model.NewDecodeError("attestation", "prediction", "unexpected type %T", values[3])
	}
	comment, ok := values[4].(string)
	if !ok {
		return Prediction{}, model.NewDecodeError("attestation", "comment", "unexpected type %T", values[4])
	}
	return Prediction{
		MarketID:      marketID,
		MarketAddress: marketAddress,
		QuestionID:    questionID,
		SqrtPriceX96:  prediction,
		Comment:       comment,
	}, nil
}

// EncodePrediction packs a schema payload.
func EncodePrediction(p Prediction) ([]byte, error) {
	return predictionArgs.Pack(p.MarketID, p.MarketAddress, p.QuestionID, p.SqrtPriceX96, p.Comment)
}

func decodeAttestation(parsed abi.ABI, data []byte) (att Attestation, err error) {
	values, err := parsed.Unpack("getAttestation", data)
	if err != nil {
		return Attestation{}, model.NewDecodeError("getAttestation", "", "%v", err)
	}
	if len(values) != 1 {
		return Attestation{}, model.NewDecodeError("getAttestation", "", "expected 1 output, got %d", len(values))
	}
	defer func() {
		if r := recover(); r != nil {
			err = model.NewDecodeError("getAttestation", "", "convert tuple: %v", r)
		}
	}()
	return *abi.ConvertType(values[0], new(Attestation)).(*Attestation), nil
}

// attestedUID returns the attestation uid carried by an Attested log.
func attestedUID(l types.Log) (common.Hash, error) {
	if len(l.Data) != 32 {
		return common.Hash{}, model.NewDecodeError("Attested", "uid", "expected 32 data bytes, got %d", len(l.Data))
	}
	return common.BytesToHash(l.Data), nil
}

func attestedTopics(parsed abi.ABI, schema common.Hash) ([][]common.Hash, error) {
	event, ok := parsed.Events["Attested"]
	if !ok {
		return nil, fmt.Errorf("attested event missing from abi")
	}
	return [][]common.Hash{{event.ID}, nil, nil, {schema}}, nil
}
