package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"ClearingHouse/internal/state"
)

// Genesis is the clearing house's initial configuration. Keys are base58.
// Vault authorities are derived from Program, so they are not listed.
// Parameter tables start from the built-in defaults and any key the file
// sets overrides them.
type Genesis struct {
	Program             state.Pubkey `toml:"program"`
	Admin               state.Pubkey `toml:"admin"`
	CollateralMint      state.Pubkey `toml:"collateral_mint"`
	CollateralVault     state.Pubkey `toml:"collateral_vault"`
	InsuranceVault      state.Pubkey `toml:"insurance_vault"`
	Markets             state.Pubkey `toml:"markets"`
	AdminControlsPrices bool         `toml:"admin_controls_prices"`

	MarginRatios     state.MarginRatios      `toml:"margin_ratios"`
	Liquidation      state.LiquidationParams `toml:"liquidation"`
	FeeStructure     state.FeeStructure      `toml:"fee_structure"`
	OracleGuardRails state.OracleGuardRails  `toml:"oracle_guard_rails"`
}

func withDefaults() Genesis {
	d := state.DefaultDefaults()
	return Genesis{
		MarginRatios:     d.MarginRatios,
		Liquidation:      d.Liquidation,
		FeeStructure:     d.FeeStructure,
		OracleGuardRails: d.OracleGuardRails,
	}
}

// DevGenesis is a fixed genesis for local runs without a file.
func DevGenesis() Genesis {
	g := withDefaults()
	g.Program = state.Pubkey{0xc1}
	g.Admin = state.Pubkey{0xad}
	g.CollateralMint = state.Pubkey{0x03}
	g.CollateralVault = state.Pubkey{0x01}
	g.InsuranceVault = state.Pubkey{0x02}
	g.Markets = state.Pubkey{0x04}
	return g
}

// LoadGenesis decodes a TOML genesis file. Unknown keys are an error so a
// misspelled parameter cannot silently fall back to its default.
func LoadGenesis(path string) (Genesis, error) {
	g := withDefaults()
	md, err := toml.DecodeFile(path, &g)
	if err != nil {
		return Genesis{}, fmt.Errorf("genesis %s: %w", path, err)
	}
	return g, checkGenesis(md, g)
}

// ParseGenesis is LoadGenesis over an in-memory document.
func ParseGenesis(doc string) (Genesis, error) {
	g := withDefaults()
	md, err := toml.Decode(doc, &g)
	if err != nil {
		return Genesis{}, fmt.Errorf("genesis: %w", err)
	}
	return g, checkGenesis(md, g)
}

func checkGenesis(md toml.MetaData, g Genesis) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("genesis: unknown keys %s", strings.Join(keys, ", "))
	}
	if g.Program.IsZero() {
		return fmt.Errorf("genesis: program is required")
	}
	return nil
}

// Deriver returns the vault-authority deriver for this deployment.
func (g Genesis) Deriver() state.HashAuthorityDeriver {
	return state.HashAuthorityDeriver{Program: g.Program}
}

// Defaults returns the parameter tables.
func (g Genesis) Defaults() state.Defaults {
	return state.Defaults{
		MarginRatios:     g.MarginRatios,
		Liquidation:      g.Liquidation,
		FeeStructure:     g.FeeStructure,
		OracleGuardRails: g.OracleGuardRails,
	}
}

// NewState builds the genesis State. Parameters are validated by
// state.NewState.
func (g Genesis) NewState() (*state.State, error) {
	deriver := g.Deriver()
	ca, _ := deriver.DeriveAuthority(g.CollateralVault)
	ia, _ := deriver.DeriveAuthority(g.InsuranceVault)
	return state.NewState(state.InitializeParams{
		Admin:                    g.Admin,
		CollateralMint:           g.CollateralMint,
		CollateralVault:          g.CollateralVault,
		CollateralVaultAuthority: ca,
		InsuranceVault:           g.InsuranceVault,
		InsuranceVaultAuthority:  ia,
		Markets:                  g.Markets,
		AdminControlsPrices:      g.AdminControlsPrices,
	}, deriver, g.Defaults())
}
