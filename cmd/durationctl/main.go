// durationctl is the operator companion tool for durationd. It signs
// commitments with the key configured under [signer] and manages encrypted
// keyfiles.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duration-fi/durationd/internal/config"
	"github.com/duration-fi/durationd/internal/crypto"
	"github.com/duration-fi/durationd/internal/domain"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "sign":
		err = runSign(os.Args[2:])
	case "encrypt-key":
		err = runEncryptKey(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "durationctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  durationctl sign -config config.toml -in commitment.json
  durationctl encrypt-key -key <hex private key> -password <pw> -out keyfile.json`)
}

func runSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "path to the TOML config file")
	inPath := fs.String("in", "", "path to the commitment JSON to sign")
	fs.Parse(args)

	if *inPath == "" {
		return errors.New("sign: -in is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	keyHex, err := crypto.ResolveKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Signer.PrivateKey,
		EncryptedKeyPath: cfg.Signer.EncryptedKeyPath,
		KeyPassword:      cfg.Signer.KeyPassword,
	})
	if err != nil {
		return err
	}

	dom := crypto.Domain{
		Name:              cfg.Protocol.Name,
		Version:           cfg.Protocol.Version,
		ChainID:           cfg.Protocol.ChainID,
		VerifyingContract: common.HexToAddress(cfg.Protocol.VerifyingContract),
	}
	signer, err := crypto.NewSigner(keyHex, dom)
	if err != nil {
		return err
	}

	c, err := readCommitment(*inPath)
	if err != nil {
		return err
	}
	if (c.Creator == common.Address{}) {
		c.Creator = signer.Address()
	}
	if c.Creator != signer.Address() {
		return fmt.Errorf("sign: creator %s does not match key address %s",
			c.Creator.Hex(), signer.Address().Hex())
	}

	sig, err := signer.SignCommitment(c)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]string{
		"hash":      crypto.CommitmentHash(c).Hex(),
		"creator":   c.Creator.Hex(),
		"signature": sig,
	})
}

func runEncryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	keyHex := fs.String("key", "", "hex private key to encrypt")
	password := fs.String("password", "", "password protecting the keyfile")
	outPath := fs.String("out", "keyfile.json", "output path for the encrypted keyfile")
	fs.Parse(args)

	if *keyHex == "" {
		return errors.New("encrypt-key: -key is required")
	}

	blob, err := crypto.EncryptKeyfile(*keyHex, *password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, blob, 0o600); err != nil {
		return fmt.Errorf("encrypt-key: writing %s: %w", *outPath, err)
	}
	fmt.Println("wrote", *outPath)
	return nil
}

// commitmentFile is the on-disk form of an unsigned commitment. Big integers
// are decimal strings, matching the API wire form.
type commitmentFile struct {
	Creator          string `json:"creator,omitempty"`
	Asset            string `json:"asset"`
	Amount           string `json:"amount"`
	DailyPremiumRate string `json:"daily_premium_rate,omitempty"`
	PremiumOffered   string `json:"premium_offered,omitempty"`
	TargetPrice      string `json:"target_price,omitempty"`
	MinLockDays      uint32 `json:"min_lock_days"`
	MaxDurationDays  uint32 `json:"max_duration_days"`
	OptionType       string `json:"option_type"`
	CommitmentType   string `json:"commitment_type"`
	Expiry           int64  `json:"expiry"`
	Nonce            uint64 `json:"nonce"`
}

func readCommitment(path string) (domain.Commitment, error) {
	var c domain.Commitment

	raw, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("sign: reading %s: %w", path, err)
	}
	var f commitmentFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return c, fmt.Errorf("sign: parsing %s: %w", path, err)
	}

	if f.Creator != "" {
		if !common.IsHexAddress(f.Creator) {
			return c, fmt.Errorf("sign: invalid creator %q", f.Creator)
		}
		c.Creator = common.HexToAddress(f.Creator)
	}
	if !common.IsHexAddress(f.Asset) {
		return c, fmt.Errorf("sign: invalid asset %q", f.Asset)
	}
	c.Asset = common.HexToAddress(f.Asset)

	if c.Amount, err = parseBig(f.Amount); err != nil || c.Amount == nil {
		return c, fmt.Errorf("sign: invalid amount %q", f.Amount)
	}
	if c.DailyPremiumRate, err = parseBig(f.DailyPremiumRate); err != nil {
		return c, fmt.Errorf("sign: invalid daily_premium_rate %q", f.DailyPremiumRate)
	}
	if c.PremiumOffered, err = parseBig(f.PremiumOffered); err != nil {
		return c, fmt.Errorf("sign: invalid premium_offered %q", f.PremiumOffered)
	}
	if c.TargetPrice, err = parseBig(f.TargetPrice); err != nil {
		return c, fmt.Errorf("sign: invalid target_price %q", f.TargetPrice)
	}

	switch strings.ToUpper(f.OptionType) {
	case "CALL":
		c.OptionType = domain.OptionTypeCall
	case "PUT":
		c.OptionType = domain.OptionTypePut
	default:
		return c, fmt.Errorf("sign: option_type must be CALL or PUT, got %q", f.OptionType)
	}
	switch strings.ToUpper(f.CommitmentType) {
	case "OFFER":
		c.CommitmentType = domain.CommitmentTypeOffer
	case "DEMAND":
		c.CommitmentType = domain.CommitmentTypeDemand
	default:
		return c, fmt.Errorf("sign: commitment_type must be OFFER or DEMAND, got %q", f.CommitmentType)
	}

	c.MinLockDays = f.MinLockDays
	c.MaxDurationDays = f.MaxDurationDays
	c.Expiry = f.Expiry
	c.Nonce = f.Nonce
	return c, nil
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
