package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"

	"creaturecore/pkg/domain"
)

// Scenario is a deterministic script of registry commands.
type Scenario struct {
	BeaconSeed string    `toml:"beacon_seed"`
	Stake      *uint64   `toml:"stake"`
	Accounts   []Account `toml:"accounts"`
	Steps      []Step    `toml:"steps"`
}

// Account seeds a genesis balance.
type Account struct {
	ID      uint64 `toml:"id"`
	Balance uint64 `toml:"balance"`
}

// Step operations.
const (
	OpCreate   = "create"
	OpBreed    = "breed"
	OpTransfer = "transfer"
	OpAdvance  = "advance"
)

// Step is one scenario command. ExpectError names the error kind the step
// must fail with; empty means it must succeed.
type Step struct {
	Op          string `toml:"op"`
	Caller      uint64 `toml:"caller"`
	To          uint64 `toml:"to"`
	Entity      uint32 `toml:"entity"`
	Parent1     uint32 `toml:"parent1"`
	Parent2     uint32 `toml:"parent2"`
	ExpectError string `toml:"expect_error"`
}

// defaultGenesis funds accounts 1 to 5 when a scenario declares none.
func defaultGenesis() map[domain.AccountID]domain.Balance {
	genesis := make(map[domain.AccountID]domain.Balance, 5)
	for id := domain.AccountID(1); id <= 5; id++ {
		genesis[id] = 100_000_000
	}
	return genesis
}

// ParseScenario decodes a TOML scenario and validates its steps.
func ParseScenario(r io.Reader) (Scenario, error) {
	var sc Scenario
	md, err := toml.NewDecoder(r).Decode(&sc)
	if err != nil {
		return Scenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Scenario{}, fmt.Errorf("unknown scenario keys: %s", strings.Join(keys, ", "))
	}
	for i, step := range sc.Steps {
		switch step.Op {
		case OpCreate, OpBreed, OpTransfer, OpAdvance:
		default:
			return Scenario{}, fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
	}
	return sc, nil
}

// Genesis returns the declared balances or the default funding.
func (s Scenario) Genesis() map[domain.AccountID]domain.Balance {
	if len(s.Accounts) == 0 {
		return defaultGenesis()
	}
	genesis := make(map[domain.AccountID]domain.Balance, len(s.Accounts))
	for _, a := range s.Accounts {
		genesis[domain.AccountID(a.ID)] += domain.Balance(a.Balance)
	}
	return genesis
}
