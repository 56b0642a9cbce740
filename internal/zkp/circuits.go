package zkp

import (
	"bytes"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	tedwards "github.com/consensys/gnark-crypto/ecc/twistededwards"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/algebra/native/twistededwards"
	"github.com/pkg/errors"
)

// Circuit errors
var (
	ErrCircuitNotReady = errors.New("range circuit keys not loaded")
)

const (
	provingKeyFile   = "range.pk"
	verifyingKeyFile = "range.vk"
)

// RangeCircuit proves knowledge of (Amount, Blinding) with
// Amount*G + Blinding*H == (CommitmentX, CommitmentY) and Amount < 2^64.
type RangeCircuit struct {
	CommitmentX frontend.Variable `gnark:",public"`
	CommitmentY frontend.Variable `gnark:",public"`

	Amount   frontend.Variable
	Blinding frontend.Variable
}

// Define implements frontend.Circuit
func (c *RangeCircuit) Define(api frontend.API) error {
	curve, err := twistededwards.NewEdCurve(api, tedwards.BN254)
	if err != nil {
		return err
	}

	api.ToBinary(c.Amount, RangeBits)

	gx, gy := BasePoint().coordinates()
	hx, hy := BlindingPoint().coordinates()

	vG := curve.ScalarMul(twistededwards.Point{X: gx, Y: gy}, c.Amount)
	rH := curve.ScalarMul(twistededwards.Point{X: hx, Y: hy}, c.Blinding)
	sum := curve.Add(vG, rH)

	api.AssertIsEqual(sum.X, c.CommitmentX)
	api.AssertIsEqual(sum.Y, c.CommitmentY)
	return nil
}

// CircuitManager owns the compiled range circuit and its Groth16 keys.
type CircuitManager struct {
	mu  sync.RWMutex
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// NewCircuitManager creates an empty manager; call Setup or LoadKeys before
// proving or verifying.
func NewCircuitManager() *CircuitManager {
	return &CircuitManager{}
}

func compileRangeCircuit() (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &RangeCircuit{})
	if err != nil {
		return nil, errors.Wrap(err, "compile range circuit")
	}
	return ccs, nil
}

// Setup compiles the circuit and runs a fresh Groth16 setup.
func (cm *CircuitManager) Setup() error {
	ccs, err := compileRangeCircuit()
	if err != nil {
		return err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return errors.Wrap(err, "groth16 setup")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.ccs, cm.pk, cm.vk = ccs, pk, vk
	return nil
}

// SaveKeys writes the proving and verifying keys to dir.
func (cm *CircuitManager) SaveKeys(dir string) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.pk == nil || cm.vk == nil {
		return ErrCircuitNotReady
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create key dir")
	}
	if err := writeKey(filepath.Join(dir, provingKeyFile), cm.pk); err != nil {
		return err
	}
	return writeKey(filepath.Join(dir, verifyingKeyFile), cm.vk)
}

type keyWriter interface {
	WriteTo(w io.Writer) (int64, error)
}

func writeKey(path string, k keyWriter) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	if _, err := k.WriteTo(f); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Sync()
}

// LoadKeys compiles the circuit and reads keys from dir. When verifyOnly is
// set the proving key is not loaded and Prove fails with ErrCircuitNotReady.
func (cm *CircuitManager) LoadKeys(dir string, verifyOnly bool) error {
	ccs, err := compileRangeCircuit()
	if err != nil {
		return err
	}

	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := readKey(filepath.Join(dir, verifyingKeyFile), vk); err != nil {
		return err
	}

	var pk groth16.ProvingKey
	if !verifyOnly {
		pk = groth16.NewProvingKey(ecc.BN254)
		if err := readKey(filepath.Join(dir, provingKeyFile), pk); err != nil {
			return err
		}
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.ccs, cm.pk, cm.vk = ccs, pk, vk
	return nil
}

type keyReader interface {
	ReadFrom(r io.Reader) (int64, error)
}

func readKey(path string, k keyReader) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	if _, err := k.ReadFrom(f); err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	return nil
}

// Prove produces a serialized Groth16 proof that commitment opens to an
// amount below 2^64.
func (cm *CircuitManager) Prove(amount *big.Int, blinding *big.Int, commitment Commitment) ([]byte, error) {
	cm.mu.RLock()
	ccs, pk := cm.ccs, cm.pk
	cm.mu.RUnlock()
	if ccs == nil || pk == nil {
		return nil, ErrCircuitNotReady
	}

	x, y := commitment.coordinates()
	assignment := &RangeCircuit{
		CommitmentX: x,
		CommitmentY: y,
		Amount:      amount,
		Blinding:    modOrder(blinding),
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, errors.Wrap(err, "build witness")
	}

	proof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidRangeProof, err.Error())
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "encode proof")
	}
	return buf.Bytes(), nil
}

// Verify checks a serialized proof against commitment.
func (cm *CircuitManager) Verify(commitment Commitment, data []byte) error {
	cm.mu.RLock()
	vk := cm.vk
	cm.mu.RUnlock()
	if vk == nil {
		return ErrCircuitNotReady
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(data)); err != nil {
		return errors.Wrap(ErrInvalidRangeProof, "decode groth16 proof")
	}

	x, y := commitment.coordinates()
	public, err := frontend.NewWitness(&RangeCircuit{CommitmentX: x, CommitmentY: y}, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return errors.Wrap(err, "build public witness")
	}
	if err := groth16.Verify(proof, vk, public); err != nil {
		return errors.Wrap(ErrInvalidRangeProof, err.Error())
	}
	return nil
}
