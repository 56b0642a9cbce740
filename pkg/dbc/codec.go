package dbc

import (
	"encoding/binary"
	"math/big"

	"github.com/pkg/errors"

	"github.com/ccoin/dbc/internal/bls"
	"github.com/ccoin/dbc/internal/zkp"
	"github.com/ccoin/dbc/pkg/types"
)

// MaxRangeProofSize bounds a decoded range proof.
const MaxRangeProofSize = 1 << 20

// encoder appends big-endian fields to buf. Variable-length fields carry a
// u32 length prefix.
type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *encoder) fixed(b []byte) { e.buf = append(e.buf, b...) }

func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.fixed(b)
}

func (e *encoder) point(p zkp.Point) {
	b := p.Bytes()
	e.fixed(b[:])
}

func (e *encoder) scalar(s *big.Int) {
	if s == nil {
		s = new(big.Int)
	}
	b := zkp.ScalarBytes(s)
	e.fixed(b[:])
}

func (e *encoder) rangeProof(rp *zkp.RangeProof) {
	e.u8(uint8(rp.Scheme))
	e.bytes(rp.Data)
}

func (e *encoder) content(c *Content) {
	e.point(c.OwnerPublicKey.Point)
	e.point(c.Commitment.Point)
	e.rangeProof(&c.RangeProof)
	e.fixed(c.Provenance[:])
	e.u32(c.Index)
}

func (e *encoder) dbc(d *DBC) {
	e.content(&d.Content)
	pk := d.MintPublicKey.Bytes()
	e.fixed(pk[:])
	sig := d.MintSignature.Bytes()
	e.fixed(sig[:])
}

func (e *encoder) output(o *Output) {
	e.point(o.OwnerPublicKey.Point)
	e.point(o.Commitment.Point)
	e.rangeProof(&o.RangeProof)
}

func (e *encoder) input(in *Input) {
	e.u32(uint32(len(in.Ring)))
	for _, d := range in.Ring {
		e.dbc(d)
	}
	e.point(in.PseudoCommitment.Point)
	e.fixed(in.KeyImage[:])
	e.fixed(in.Proof.Bytes())
}

func (e *encoder) spentContent(c *SpentProofContent) {
	e.fixed(c.KeyImage[:])
	e.fixed(c.TransactionHash[:])
	e.point(c.InputCommitment.Point)
}

func (e *encoder) share(s bls.SignatureShare) {
	e.u32(uint32(s.Index))
	sig := s.Signature.Bytes()
	e.fixed(sig[:])
}

func (e *encoder) spentProof(p *SpentProof) {
	e.spentContent(&p.Content)
	e.share(p.Share)
}

// decoder reads what encoder wrote. The first failure sticks; later reads
// return zero values.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = errors.Wrapf(ErrMalformedTransaction, format, args...)
	}
}

func (d *decoder) fixed(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf)-d.off < n {
		d.fail("short buffer at %d, need %d", d.off, n)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	b := d.fixed(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.fixed(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.fixed(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *decoder) bytes(max int) []byte {
	n := d.u32()
	if d.err != nil {
		return nil
	}
	if int64(n) > int64(max) {
		d.fail("field length %d exceeds %d", n, max)
		return nil
	}
	return append([]byte(nil), d.fixed(int(n))...)
}

func (d *decoder) count(max int) int {
	n := d.u32()
	if int64(n) > int64(max) {
		d.fail("count %d exceeds %d", n, max)
		return 0
	}
	return int(n)
}

func (d *decoder) hash() types.Hash {
	var h types.Hash
	copy(h[:], d.fixed(types.HashSize))
	return h
}

func (d *decoder) point() zkp.Point {
	b := d.fixed(zkp.PointSize)
	if b == nil {
		return zkp.Point{}
	}
	p, err := zkp.PointFromBytes(b)
	if err != nil {
		d.fail("point at %d: %v", d.off-zkp.PointSize, err)
	}
	return p
}

func (d *decoder) scalar() *big.Int {
	b := d.fixed(zkp.ScalarSize)
	if b == nil {
		return nil
	}
	s, err := zkp.ScalarFromBytes(b)
	if err != nil {
		d.fail("scalar: %v", err)
	}
	return s
}

func (d *decoder) publicKey() zkp.PublicKey {
	b := d.fixed(zkp.PointSize)
	if b == nil {
		return zkp.PublicKey{}
	}
	pk, err := zkp.PublicKeyFromBytes(b)
	if err != nil {
		d.fail("public key: %v", err)
	}
	return pk
}

func (d *decoder) keyImage() zkp.KeyImage {
	b := d.fixed(zkp.PointSize)
	if b == nil {
		return zkp.KeyImage{}
	}
	ki, err := zkp.KeyImageFromBytes(b)
	if err != nil {
		d.fail("key image: %v", err)
	}
	return ki
}

func (d *decoder) rangeProof() zkp.RangeProof {
	scheme := zkp.RangeScheme(d.u8())
	return zkp.RangeProof{Scheme: scheme, Data: d.bytes(MaxRangeProofSize)}
}

func (d *decoder) content() Content {
	return Content{
		OwnerPublicKey: d.publicKey(),
		Commitment:     zkp.Commitment{Point: d.point()},
		RangeProof:     d.rangeProof(),
		Provenance:     d.hash(),
		Index:          d.u32(),
	}
}

func (d *decoder) mintKey() bls.PublicKey {
	b := d.fixed(bls.PublicKeySize)
	if b == nil {
		return bls.PublicKey{}
	}
	pk, err := bls.PublicKeyFromBytes(b)
	if err != nil {
		d.fail("mint key: %v", err)
	}
	return pk
}

func (d *decoder) signature() bls.Signature {
	b := d.fixed(bls.SignatureSize)
	if b == nil {
		return bls.Signature{}
	}
	sig, err := bls.SignatureFromBytes(b)
	if err != nil {
		d.fail("signature: %v", err)
	}
	return sig
}

func (d *decoder) dbc() *DBC {
	return &DBC{
		Content:       d.content(),
		MintPublicKey: d.mintKey(),
		MintSignature: d.signature(),
	}
}

func (d *decoder) output() Output {
	return Output{
		OwnerPublicKey: d.publicKey(),
		Commitment:     zkp.Commitment{Point: d.point()},
		RangeProof:     d.rangeProof(),
	}
}

func (d *decoder) input() Input {
	var in Input
	n := d.count(zkp.MaxRingSize)
	if d.err == nil && n == 0 {
		d.fail("empty ring")
	}
	for i := 0; i < n && d.err == nil; i++ {
		in.Ring = append(in.Ring, d.dbc())
	}
	in.PseudoCommitment = zkp.Commitment{Point: d.point()}
	in.KeyImage = d.keyImage()
	b := d.fixed(zkp.ScalarSize * (1 + 2*n))
	if b == nil {
		return in
	}
	proof, err := zkp.OwnershipProofFromBytes(b, n)
	if err != nil {
		d.fail("ownership proof: %v", err)
	}
	in.Proof = proof
	return in
}

func (d *decoder) spentContent() SpentProofContent {
	return SpentProofContent{
		KeyImage:        d.keyImage(),
		TransactionHash: d.hash(),
		InputCommitment: zkp.Commitment{Point: d.point()},
	}
}

func (d *decoder) share() bls.SignatureShare {
	idx := d.u32()
	if idx >= bls.MaxShares {
		d.fail("share index %d", idx)
	}
	return bls.SignatureShare{Index: int(idx), Signature: d.signature()}
}

func (d *decoder) spentProof() *SpentProof {
	return &SpentProof{Content: d.spentContent(), Share: d.share()}
}

func (d *decoder) finish() error {
	if d.err == nil && d.off != len(d.buf) {
		d.fail("%d trailing bytes", len(d.buf)-d.off)
	}
	return d.err
}

// EncodeDBC serializes a DBC.
func EncodeDBC(dbc *DBC) []byte {
	var e encoder
	e.dbc(dbc)
	return e.buf
}

// DecodeDBC parses EncodeDBC output.
func DecodeDBC(b []byte) (*DBC, error) {
	d := decoder{buf: b}
	out := d.dbc()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeTransaction serializes a reissue transaction including proofs.
func EncodeTransaction(tx *ReissueTransaction) []byte {
	var e encoder
	e.u32(uint32(len(tx.Inputs)))
	for i := range tx.Inputs {
		e.input(&tx.Inputs[i])
	}
	e.u32(uint32(len(tx.Outputs)))
	for i := range tx.Outputs {
		e.output(&tx.Outputs[i])
	}
	e.u64(tx.Fee)
	return e.buf
}

// DecodeTransaction parses EncodeTransaction output.
func DecodeTransaction(b []byte) (*ReissueTransaction, error) {
	d := decoder{buf: b}
	tx := &ReissueTransaction{}
	n := d.count(MaxInputs)
	for i := 0; i < n && d.err == nil; i++ {
		tx.Inputs = append(tx.Inputs, d.input())
	}
	n = d.count(MaxOutputs)
	for i := 0; i < n && d.err == nil; i++ {
		tx.Outputs = append(tx.Outputs, d.output())
	}
	tx.Fee = d.u64()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return tx, nil
}

// EncodeSpentProof serializes a spent proof.
func EncodeSpentProof(p *SpentProof) []byte {
	var e encoder
	e.spentProof(p)
	return e.buf
}

// DecodeSpentProof parses EncodeSpentProof output.
func DecodeSpentProof(b []byte) (*SpentProof, error) {
	d := decoder{buf: b}
	p := d.spentProof()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeSpentCertificate serializes a spent certificate.
func EncodeSpentCertificate(c *SpentCertificate) []byte {
	var e encoder
	e.spentContent(&c.Content)
	pk := c.MintPublicKey.Bytes()
	e.fixed(pk[:])
	sig := c.Signature.Bytes()
	e.fixed(sig[:])
	return e.buf
}

// DecodeSpentCertificate parses EncodeSpentCertificate output.
func DecodeSpentCertificate(b []byte) (*SpentCertificate, error) {
	d := decoder{buf: b}
	c := &SpentCertificate{Content: d.spentContent(), MintPublicKey: d.mintKey(), Signature: d.signature()}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return c, nil
}

// EncodeReissueShare serializes a mint's reply.
func EncodeReissueShare(s *ReissueShare) []byte {
	var e encoder
	e.u32(uint32(s.MintIndex))
	e.bytes(s.PublicKeySet.Bytes())
	e.fixed(s.TransactionHash[:])
	e.fixed(s.OutputsDigest[:])
	e.u32(uint32(len(s.OutputShares)))
	for _, sh := range s.OutputShares {
		e.share(sh)
	}
	e.u32(uint32(len(s.SpentProofs)))
	for _, p := range s.SpentProofs {
		e.spentProof(p)
	}
	return e.buf
}

// DecodeReissueShare parses EncodeReissueShare output.
func DecodeReissueShare(b []byte) (*ReissueShare, error) {
	d := decoder{buf: b}
	s := &ReissueShare{}
	idx := d.u32()
	if idx >= bls.MaxShares {
		d.fail("mint index %d", idx)
	}
	s.MintIndex = int(idx)

	pksBytes := d.bytes(2 + bls.MaxShares*bls.PublicKeySize)
	if d.err == nil {
		pks, err := bls.PublicKeySetFromBytes(pksBytes)
		if err != nil {
			d.fail("public key set: %v", err)
		}
		s.PublicKeySet = pks
	}
	s.TransactionHash = d.hash()
	s.OutputsDigest = d.hash()

	n := d.count(MaxOutputs)
	for i := 0; i < n && d.err == nil; i++ {
		s.OutputShares = append(s.OutputShares, d.share())
	}
	n = d.count(MaxInputs)
	for i := 0; i < n && d.err == nil; i++ {
		s.SpentProofs = append(s.SpentProofs, d.spentProof())
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return s, nil
}

// EncodeBundle serializes a bundle. The result contains secrets.
func EncodeBundle(b *Bundle) []byte {
	var e encoder
	e.dbc(b.DBC)
	sk := b.OwnerSecret.Bytes()
	e.fixed(sk[:])
	e.u64(b.Secrets.Amount)
	e.scalar(b.Secrets.Blinding)
	return e.buf
}

// DecodeBundle parses EncodeBundle output and checks the secrets match.
func DecodeBundle(b []byte) (*Bundle, error) {
	d := decoder{buf: b}
	dbc := d.dbc()
	skBytes := d.fixed(zkp.ScalarSize)
	amount := d.u64()
	blinding := d.scalar()
	if err := d.finish(); err != nil {
		return nil, err
	}
	owner, err := zkp.SecretKeyFromBytes(skBytes)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
	}
	return NewBundle(dbc, owner, AmountSecrets{Amount: amount, Blinding: blinding})
}

// EncodeGenesisRequest serializes a genesis request.
func EncodeGenesisRequest(r *GenesisRequest) []byte {
	var e encoder
	e.content(&r.Content)
	e.u64(r.Secrets.Amount)
	e.scalar(r.Secrets.Blinding)
	return e.buf
}

// DecodeGenesisRequest parses EncodeGenesisRequest output.
func DecodeGenesisRequest(b []byte) (*GenesisRequest, error) {
	d := decoder{buf: b}
	r := &GenesisRequest{Content: d.content()}
	r.Secrets.Amount = d.u64()
	r.Secrets.Blinding = d.scalar()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return r, nil
}
