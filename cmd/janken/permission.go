package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ayusman/janken/internal/permission"
)

var permissionOpts struct {
	grant  bool
	revoke bool
	reset  bool
}

var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Show or change camera access",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n := 0
		for _, set := range []bool{permissionOpts.grant, permissionOpts.revoke, permissionOpts.reset} {
			if set {
				n++
			}
		}
		if n > 1 {
			return errors.New("use only one of --grant, --revoke and --reset")
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		gate := &permission.Gate{
			Checker:   permission.NewDeviceChecker(cfg.Camera.Device),
			Decisions: permission.NewStoreDecisions(st.Settings()),
		}

		switch {
		case permissionOpts.grant:
			err = gate.Set(permission.Authorized)
		case permissionOpts.revoke:
			err = gate.Set(permission.Denied)
		case permissionOpts.reset:
			err = gate.Set(permission.NotDetermined)
		}
		if err != nil {
			return fmt.Errorf("failed to record decision: %w", err)
		}

		return printPermission(gate)
	},
}

func init() {
	f := permissionCmd.Flags()
	f.BoolVar(&permissionOpts.grant, "grant", false, "allow janken to use the camera")
	f.BoolVar(&permissionOpts.revoke, "revoke", false, "deny janken the camera")
	f.BoolVar(&permissionOpts.reset, "reset", false, "forget the decision and ask again")
	rootCmd.AddCommand(permissionCmd)
}

func printPermission(gate *permission.Gate) error {
	decision, err := gate.Decisions.Decision()
	if err != nil {
		return err
	}
	fmt.Printf("decision: %s\n", decision)

	osStatus, err := gate.Checker.Status()
	if err != nil {
		fmt.Printf("device:   unknown (%v)\n", err)
		return nil
	}
	fmt.Printf("device:   %s\n", osStatus)
	if osStatus == permission.Restricted {
		fmt.Println("The operating system refuses access to the camera device.")
	}
	return nil
}
