package app

import (
	"context"
	"fmt"
	"io"

	"staking-reward-report/internal/chain"
	"staking-reward-report/internal/domain"
)

// Identity resolves one address and, when it nominates, its targets.
func (a *App) Identity(ctx context.Context, address string, out io.Writer) error {
	if _, _, err := chain.DecodeAddress(address); err != nil {
		return fmt.Errorf("address %q: %w", address, err)
	}

	client, err := a.dialChain(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	resolver := a.newResolver(client)
	id, err := resolver.ResolveIdentity(ctx, address)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "identity: %s\nverified: %t\n", id.Label(), id.Verified)

	rec, err := resolver.Nominations(ctx, address)
	if err != nil {
		return err
	}
	writeNominations(out, rec)
	return nil
}

func writeNominations(out io.Writer, rec *domain.NominationRecord) {
	if rec == nil || len(rec.Targets) == 0 {
		fmt.Fprintln(out, "nominating: none")
		return
	}
	fmt.Fprintf(out, "nominating since era %d:\n", rec.Era)
	for _, target := range rec.Targets {
		mark := " "
		if target.Verified {
			mark = "✓"
		}
		line := fmt.Sprintf("  %s %s  %s", mark, target.Address, target.Identity)
		if target.Err != nil {
			line += fmt.Sprintf("  (lookup failed: %v)", target.Err)
		}
		fmt.Fprintln(out, line)
	}
}
