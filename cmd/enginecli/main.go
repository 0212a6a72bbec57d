package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/veilkey/capability-backend/api/enginehandler"
	"github.com/veilkey/capability-backend/api/recoveryhandler"
	"github.com/veilkey/capability-backend/cmd/flags"
	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/interfaces"
)

var flagPassphrase = &cli.StringFlag{
	Name:  "passphrase",
	Usage: "derive the master secret from a passphrase instead of generating a random one",
}
var flagSalt = &cli.StringFlag{
	Name:  "salt",
	Usage: "hex-encoded 16-byte salt for passphrase derivation; generated when absent",
}
var flagParent = &cli.StringFlag{
	Name:     "parent",
	Required: true,
	Usage:    "parent role id",
}
var flagRelationship = &cli.StringFlag{
	Name:  "relationship",
	Value: "owner",
	Usage: "edge level to the parent: read, write or owner",
}
var flagSource = &cli.StringFlag{
	Name:     "source",
	Required: true,
	Usage:    "role id to share",
}
var flagTarget = &cli.StringFlag{
	Name:     "target",
	Required: true,
	Usage:    "role id to share with",
}
var flagLevel = &cli.StringFlag{
	Name:  "level",
	Value: "read",
	Usage: "access level to share: read, write or owner",
}
var flagShareID = &cli.StringFlag{
	Name:     "share-id",
	Required: true,
	Usage:    "pending share id to accept",
}
var flagOwnerRole = &cli.StringFlag{
	Name:     "owner-role",
	Required: true,
	Usage:    "role that will own the data item",
}
var flagItemID = &cli.StringFlag{
	Name:     "item",
	Required: true,
	Usage:    "data item id",
}
var flagInput = &cli.StringFlag{
	Name:  "input",
	Value: "-",
	Usage: "file to read content from, - for stdin",
}
var flagRole = &cli.StringFlag{
	Name:     "role",
	Required: true,
	Usage:    "role id",
}
var flagHolders = &cli.StringSliceFlag{
	Name:     "holder",
	Required: true,
	Usage:    "holder role id; repeat for each trustee",
}
var flagRequestID = &cli.StringFlag{
	Name:     "request",
	Required: true,
	Usage:    "recovery request id",
}
var flagShareCode = &cli.StringFlag{
	Name:     "code",
	Required: true,
	Usage:    "share code received out of band",
}
var flagSessionKey = &cli.StringFlag{
	Name:     "session-key",
	Required: true,
	Usage:    "base64 session private key printed by recovery-request",
}

func main() {
	app := &cli.App{
		Name:  "engine-cli",
		Usage: "Operator tool for the capability engine",
		Flags: []cli.Flag{
			flags.ServerAddrFlag,
			flags.MasterSecretFlag,
			flags.RootRolesFlag,
		},
		Commands: []*cli.Command{
			{
				Name:   "generate-master",
				Usage:  "generate or derive a master secret",
				Flags:  []cli.Flag{flagPassphrase, flagSalt},
				Action: runGenerateMaster,
			},
			{
				Name:   "create-root",
				Usage:  "create a root role sealed under the master secret",
				Action: withEngineClient(runCreateRoot),
			},
			{
				Name:   "keyring",
				Usage:  "print the roles and levels the master secret reaches",
				Action: withEngineClient(runKeyRing),
			},
			{
				Name:   "create-role",
				Usage:  "create a child role under a controlled parent",
				Flags:  []cli.Flag{flagParent, flagRelationship},
				Action: withEngineClient(runCreateRole),
			},
			{
				Name:   "share",
				Usage:  "share a role's capabilities with another role",
				Flags:  []cli.Flag{flagSource, flagTarget, flagLevel},
				Action: withEngineClient(runShare),
			},
			{
				Name:   "accept-share",
				Usage:  "accept a pending share addressed to an owned role",
				Flags:  []cli.Flag{flagShareID},
				Action: withEngineClient(runAcceptShare),
			},
			{
				Name:   "data-create",
				Usage:  "create a protected data item",
				Flags:  []cli.Flag{flagOwnerRole, flagInput},
				Action: withEngineClient(runDataCreate),
			},
			{
				Name:   "data-open",
				Usage:  "decrypt a data item to stdout",
				Flags:  []cli.Flag{flagItemID},
				Action: withEngineClient(runDataOpen),
			},
			{
				Name:   "recovery-activate",
				Usage:  "enroll holder roles as recovery trustees",
				Flags:  []cli.Flag{flagRole, flagHolders},
				Action: withRecoveryClient(runRecoveryActivate),
			},
			{
				Name:   "recovery-request",
				Usage:  "open a recovery request for a role",
				Flags:  []cli.Flag{flagRole},
				Action: withRecoveryClient(runRecoveryRequest),
			},
			{
				Name:   "recovery-approve",
				Usage:  "approve a recovery request as a holder",
				Flags:  []cli.Flag{flagRequestID, flagRole, flagShareCode},
				Action: withRecoveryClient(runRecoveryApprove),
			},
			{
				Name:   "recovery-complete",
				Usage:  "complete a ready recovery and print the owner key",
				Flags:  []cli.Flag{flagRequestID, flagSessionKey},
				Action: withRecoveryClient(runRecoveryComplete),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func sessionCredentials(cCtx *cli.Context) (cryptoutils.SymmetricKey, []interfaces.RoleID, error) {
	masterHex := cCtx.String(flags.MasterSecretFlag.Name)
	if masterHex == "" {
		return nil, nil, errors.New("master-secret is required, generate one with generate-master")
	}
	master, err := hex.DecodeString(masterHex)
	if err != nil {
		return nil, nil, fmt.Errorf("malformed master secret: %w", err)
	}

	var roots []interfaces.RoleID
	for _, raw := range cCtx.StringSlice(flags.RootRolesFlag.Name) {
		root, err := interfaces.ParseRoleID(raw)
		if err != nil {
			return nil, nil, err
		}
		roots = append(roots, root)
	}
	return cryptoutils.SymmetricKey(master), roots, nil
}

func withEngineClient(action func(*cli.Context, *enginehandler.Client) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		master, roots, err := sessionCredentials(cCtx)
		if err != nil {
			return err
		}
		return action(cCtx, enginehandler.NewClient(cCtx.String(flags.ServerAddrFlag.Name), master, roots))
	}
}

func withRecoveryClient(action func(*cli.Context, *recoveryhandler.Client) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		master, roots, err := sessionCredentials(cCtx)
		if err != nil {
			return err
		}
		return action(cCtx, recoveryhandler.NewClient(cCtx.String(flags.ServerAddrFlag.Name), master, roots))
	}
}

func runGenerateMaster(cCtx *cli.Context) error {
	passphrase := cCtx.String(flagPassphrase.Name)
	if passphrase == "" {
		master, err := cryptoutils.NewSymmetricKey()
		if err != nil {
			return err
		}
		fmt.Printf("master secret: %s\n", hex.EncodeToString(master))
		return nil
	}

	var salt []byte
	var err error
	if saltHex := cCtx.String(flagSalt.Name); saltHex != "" {
		salt, err = hex.DecodeString(saltHex)
	} else {
		salt, err = cryptoutils.NewMasterSalt()
	}
	if err != nil {
		return err
	}

	master, err := cryptoutils.DeriveMasterSecret([]byte(passphrase), salt)
	if err != nil {
		return err
	}
	fmt.Printf("master secret: %s\nsalt:          %s\n", hex.EncodeToString(master), hex.EncodeToString(salt))
	return nil
}

func runCreateRoot(cCtx *cli.Context, client *enginehandler.Client) error {
	roleID, err := client.CreateRootRole(cCtx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("role id: %s\n", roleID)
	return nil
}

func runKeyRing(cCtx *cli.Context, client *enginehandler.Client) error {
	ring, err := client.KeyRing(cCtx.Context)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(ring, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func runCreateRole(cCtx *cli.Context, client *enginehandler.Client) error {
	parent, err := interfaces.ParseRoleID(cCtx.String(flagParent.Name))
	if err != nil {
		return err
	}
	relationship, err := interfaces.ParseAccessLevel(cCtx.String(flagRelationship.Name))
	if err != nil {
		return err
	}
	roleID, err := client.CreateRole(cCtx.Context, parent, relationship)
	if err != nil {
		return err
	}
	fmt.Printf("role id: %s\n", roleID)
	return nil
}

func runShare(cCtx *cli.Context, client *enginehandler.Client) error {
	source, err := interfaces.ParseRoleID(cCtx.String(flagSource.Name))
	if err != nil {
		return err
	}
	target, err := interfaces.ParseRoleID(cCtx.String(flagTarget.Name))
	if err != nil {
		return err
	}
	level, err := interfaces.ParseAccessLevel(cCtx.String(flagLevel.Name))
	if err != nil {
		return err
	}

	result, err := client.ShareRole(cCtx.Context, source, target, level)
	if err != nil {
		return err
	}
	fmt.Printf("outcome: %s\n", result.Outcome)
	if result.PendingShareID != "" {
		fmt.Printf("pending share id: %s\n", result.PendingShareID)
	}
	return nil
}

func runAcceptShare(cCtx *cli.Context, client *enginehandler.Client) error {
	shareID, err := interfaces.ParsePendingShareID(cCtx.String(flagShareID.Name))
	if err != nil {
		return err
	}
	return client.AcceptPendingShare(cCtx.Context, shareID)
}

func runDataCreate(cCtx *cli.Context, client *enginehandler.Client) error {
	owner, err := interfaces.ParseRoleID(cCtx.String(flagOwnerRole.Name))
	if err != nil {
		return err
	}

	input := cCtx.String(flagInput.Name)
	var content []byte
	if input == "-" {
		content, err = io.ReadAll(os.Stdin)
	} else {
		content, err = os.ReadFile(input)
	}
	if err != nil {
		return err
	}

	itemID, err := client.CreateDataItem(cCtx.Context, owner, content)
	if err != nil {
		return err
	}
	fmt.Printf("item id: %s\n", itemID)
	return nil
}

func runDataOpen(cCtx *cli.Context, client *enginehandler.Client) error {
	itemID, err := interfaces.ParseDataItemID(cCtx.String(flagItemID.Name))
	if err != nil {
		return err
	}
	plaintext, err := client.OpenDataItem(cCtx.Context, itemID)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(plaintext)
	return err
}

func runRecoveryActivate(cCtx *cli.Context, client *recoveryhandler.Client) error {
	roleID, err := interfaces.ParseRoleID(cCtx.String(flagRole.Name))
	if err != nil {
		return err
	}
	var holders []interfaces.RoleID
	for _, raw := range cCtx.StringSlice(flagHolders.Name) {
		holder, err := interfaces.ParseRoleID(raw)
		if err != nil {
			return err
		}
		holders = append(holders, holder)
	}

	result, err := client.Activate(cCtx.Context, roleID, holders)
	if err != nil {
		return err
	}
	fmt.Printf("recovery key id: %s\n", result.RecoveryKeyID)
	fmt.Println("share codes, deliver each to its holder out of band:")
	for _, share := range result.Shares {
		fmt.Printf("  %s  %s\n", share.HolderRoleID, share.ShareCode)
	}
	return nil
}

func runRecoveryRequest(cCtx *cli.Context, client *recoveryhandler.Client) error {
	roleID, err := interfaces.ParseRoleID(cCtx.String(flagRole.Name))
	if err != nil {
		return err
	}
	result, err := client.Request(cCtx.Context, roleID)
	if err != nil {
		return err
	}
	fmt.Printf("request id:  %s\n", result.RequestID)
	fmt.Printf("session key: %s\n", base64.StdEncoding.EncodeToString(result.SessionPrivateKey))
	fmt.Println("keep the session key, completion requires it")
	return nil
}

func runRecoveryApprove(cCtx *cli.Context, client *recoveryhandler.Client) error {
	requestID, err := interfaces.ParseRecoveryRequestID(cCtx.String(flagRequestID.Name))
	if err != nil {
		return err
	}
	holder, err := interfaces.ParseRoleID(cCtx.String(flagRole.Name))
	if err != nil {
		return err
	}
	return client.Approve(cCtx.Context, requestID, holder, cCtx.String(flagShareCode.Name))
}

func runRecoveryComplete(cCtx *cli.Context, client *recoveryhandler.Client) error {
	requestID, err := interfaces.ParseRecoveryRequestID(cCtx.String(flagRequestID.Name))
	if err != nil {
		return err
	}
	sessionKey, err := base64.StdEncoding.DecodeString(cCtx.String(flagSessionKey.Name))
	if err != nil {
		return fmt.Errorf("malformed session key: %w", err)
	}

	result, err := client.Complete(cCtx.Context, requestID, sessionKey)
	if err != nil {
		return err
	}
	fmt.Printf("owner key: %s\n", hex.EncodeToString(result))
	return nil
}
