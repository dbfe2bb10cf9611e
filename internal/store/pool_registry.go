package store

import "database/sql"

// PoolRegistryEntry is one constant-product pool's static account set, keyed
// by the (input_mint, output_mint) pair a follower swap is routed on. It is
// administratively populated -- there is no on-chain pool-discovery stage in
// this engine, mirroring how token_cache is seeded by whatever first resolves
// a mint rather than by a discovery crawler.
type PoolRegistryEntry struct {
	InputMint    string
	OutputMint   string
	PoolState    string
	VaultIn      string
	VaultOut     string
	UserATAIn    string
	UserATAOut   string
	AuthorityPDA string
	FeeBps       int
}

// GetPoolRegistry fetches a registered pool's accounts, or nil if the pair
// hasn't been registered.
func (d *DB) GetPoolRegistry(inputMint, outputMint string) (*PoolRegistryEntry, error) {
	var e PoolRegistryEntry
	err := d.db.QueryRow(`
		SELECT input_mint, output_mint, pool_state, vault_in, vault_out, user_ata_in, user_ata_out, authority_pda, fee_bps
		FROM pool_registry WHERE input_mint = ? AND output_mint = ?`, inputMint, outputMint).
		Scan(&e.InputMint, &e.OutputMint, &e.PoolState, &e.VaultIn, &e.VaultOut, &e.UserATAIn, &e.UserATAOut, &e.AuthorityPDA, &e.FeeBps)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertPoolRegistry registers or replaces a pool's account set.
func (d *DB) UpsertPoolRegistry(e *PoolRegistryEntry) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO pool_registry
			(input_mint, output_mint, pool_state, vault_in, vault_out, user_ata_in, user_ata_out, authority_pda, fee_bps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.InputMint, e.OutputMint, e.PoolState, e.VaultIn, e.VaultOut, e.UserATAIn, e.UserATAOut, e.AuthorityPDA, e.FeeBps)
	return err
}
