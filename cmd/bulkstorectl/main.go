package main

import (
	"bufio"
	"crypto/rsa"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/otavio-f/cautious-happiness/bulkstore"
)

var (
	flagPath       string
	flagPubKey     string
	flagPrivKey    string
	flagPassphrase string
)

func main() {
	root := &cobra.Command{
		Use:   "bulkstorectl",
		Short: "Inspect and drive an encrypted bulk-storage container",
	}
	root.PersistentFlags().StringVar(&flagPath, "path", "container.bulk", "path to the container file")
	root.PersistentFlags().StringVar(&flagPassphrase, "passphrase", "", "private key passphrase (prompted if omitted)")

	root.AddCommand(
		genKeyCmd(),
		createCmd(),
		openCmd(),
		addCmd(),
		getCmd(),
		deleteCmd(),
		syncCmd(),
		purgeCmd(),
		statCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func genKeyCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a fresh RSA key pair, writing <out>.key and <out>.pub",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass := flagPassphrase
			if pass == "" {
				pass = readPassphrase("Enter a passphrase to protect the private key: ")
			}
			priv, pub, err := bulkstore.GenKey(pass)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out+".key", priv, 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(out+".pub", pub, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s.key and %s.pub\n", out, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "bulkstore", "output file prefix")
	return cmd
}

func createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new empty container protected by a public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := loadPublicKey()
			if err != nil {
				return err
			}
			s, err := bulkstore.Create(flagPath, pub)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Sync(pub); err != nil {
				return err
			}
			fmt.Printf("created %s\n", flagPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagPubKey, "pubkey", "", "path to the SPKI PEM public key")
	cmd.MarkFlagRequired("pubkey")
	return cmd
}

func addCmd() *cobra.Command {
	var srcPath string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a file's contents as a new blob and print its UUID",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := loadKeyPair()
			if err != nil {
				return err
			}
			s, err := bulkstore.Open(flagPath, priv)
			if err != nil {
				return err
			}
			defer s.Close()

			f, err := os.Open(srcPath)
			if err != nil {
				return err
			}
			defer f.Close()

			rec, err := s.Add(f)
			if err != nil {
				return err
			}
			if err := s.Sync(pub); err != nil {
				return err
			}
			fmt.Println(uuid.UUID(rec.UUID).String())
			return nil
		},
	}
	cmd.Flags().StringVar(&flagPrivKey, "privkey", "", "path to the PKCS#8 PEM private key")
	cmd.Flags().StringVar(&flagPubKey, "pubkey", "", "path to the SPKI PEM public key")
	cmd.Flags().StringVar(&srcPath, "file", "", "path to the file to store")
	cmd.MarkFlagRequired("privkey")
	cmd.MarkFlagRequired("pubkey")
	cmd.MarkFlagRequired("file")
	return cmd
}

func getCmd() *cobra.Command {
	var id string
	var dstPath string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Write a blob's contents to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, priv, err := loadKeyPair()
			if err != nil {
				return err
			}
			s, err := bulkstore.Open(flagPath, priv)
			if err != nil {
				return err
			}
			defer s.Close()

			u, err := parseUUID(id)
			if err != nil {
				return err
			}
			f, err := os.Create(dstPath)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := bulkstore.GetFile(s, u, f); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", dstPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagPrivKey, "privkey", "", "path to the PKCS#8 PEM private key")
	cmd.Flags().StringVar(&id, "uuid", "", "blob UUID")
	cmd.Flags().StringVar(&dstPath, "out", "", "destination file path")
	cmd.MarkFlagRequired("privkey")
	cmd.MarkFlagRequired("uuid")
	cmd.MarkFlagRequired("out")
	return cmd
}

func deleteCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a blob by UUID",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := loadKeyPair()
			if err != nil {
				return err
			}
			s, err := bulkstore.Open(flagPath, priv)
			if err != nil {
				return err
			}
			defer s.Close()

			u, err := parseUUID(id)
			if err != nil {
				return err
			}
			found, err := s.Delete(u)
			if err != nil {
				return err
			}
			if err := s.Sync(pub); err != nil {
				return err
			}
			if !found {
				fmt.Println("no such blob")
				return nil
			}
			fmt.Println("deleted")
			return nil
		},
	}
	cmd.Flags().StringVar(&flagPrivKey, "privkey", "", "path to the PKCS#8 PEM private key")
	cmd.Flags().StringVar(&flagPubKey, "pubkey", "", "path to the SPKI PEM public key")
	cmd.Flags().StringVar(&id, "uuid", "", "blob UUID")
	cmd.MarkFlagRequired("privkey")
	cmd.MarkFlagRequired("pubkey")
	cmd.MarkFlagRequired("uuid")
	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Force a TOC/header flush",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := loadKeyPair()
			if err != nil {
				return err
			}
			s, err := bulkstore.Open(flagPath, priv)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Sync(pub)
		},
	}
	cmd.Flags().StringVar(&flagPrivKey, "privkey", "", "path to the PKCS#8 PEM private key")
	cmd.Flags().StringVar(&flagPubKey, "pubkey", "", "path to the SPKI PEM public key")
	cmd.MarkFlagRequired("privkey")
	cmd.MarkFlagRequired("pubkey")
	return cmd
}

func purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Compact the container, reclaiming space held by deleted blobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := loadKeyPair()
			if err != nil {
				return err
			}
			s, err := bulkstore.Open(flagPath, priv)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Purge(); err != nil {
				return err
			}
			return s.Sync(pub)
		},
	}
	cmd.Flags().StringVar(&flagPrivKey, "privkey", "", "path to the PKCS#8 PEM private key")
	cmd.Flags().StringVar(&flagPubKey, "pubkey", "", "path to the SPKI PEM public key")
	cmd.MarkFlagRequired("privkey")
	cmd.MarkFlagRequired("pubkey")
	return cmd
}

func statCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Print a summary of the container's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, priv, err := loadKeyPair()
			if err != nil {
				return err
			}
			s, err := bulkstore.Open(flagPath, priv)
			if err != nil {
				return err
			}
			defer s.Close()
			st, err := s.Stat()
			if err != nil {
				return err
			}
			fmt.Printf("live records:    %d\n", st.LiveRecords)
			fmt.Printf("deleted records: %d\n", st.DeletedRecords)
			fmt.Printf("plaintext bytes: %d\n", st.PlaintextBytes)
			fmt.Printf("file size:       %d\n", st.FileSize)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagPrivKey, "privkey", "", "path to the PKCS#8 PEM private key")
	cmd.MarkFlagRequired("privkey")
	return cmd
}

// openCmd drops into an interactive shell against an already-created
// container, mirroring the teacher's REPL-style collaborator.
func openCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a container and drop into an interactive shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := loadKeyPair()
			if err != nil {
				return err
			}
			s, err := bulkstore.Open(flagPath, priv)
			if err != nil {
				return fmt.Errorf("opening container: %w", err)
			}
			defer s.Close()

			fmt.Println("bulkstorectl shell")
			fmt.Println("commands: add <file>, get <uuid> <file>, del <uuid>, stat, sync, purge, exit")

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return nil
				}
				parts := strings.Fields(strings.TrimSpace(scanner.Text()))
				if len(parts) == 0 {
					continue
				}

				switch strings.ToLower(parts[0]) {
				case "add":
					if len(parts) != 2 {
						fmt.Println("usage: add <file>")
						continue
					}
					f, err := os.Open(parts[1])
					if err != nil {
						fmt.Printf("error: %v\n", err)
						continue
					}
					rec, err := s.Add(f)
					f.Close()
					if err != nil {
						fmt.Printf("error: %v\n", err)
						continue
					}
					if err := s.Sync(pub); err != nil {
						fmt.Printf("error: %v\n", err)
						continue
					}
					fmt.Println(uuid.UUID(rec.UUID).String())
				case "get":
					if len(parts) != 3 {
						fmt.Println("usage: get <uuid> <file>")
						continue
					}
					u, err := parseUUID(parts[1])
					if err != nil {
						fmt.Printf("error: %v\n", err)
						continue
					}
					f, err := os.Create(parts[2])
					if err != nil {
						fmt.Printf("error: %v\n", err)
						continue
					}
					err = bulkstore.GetFile(s, u, f)
					f.Close()
					if err != nil {
						fmt.Printf("error: %v\n", err)
						continue
					}
					fmt.Println("OK")
				case "del":
					if len(parts) != 2 {
						fmt.Println("usage: del <uuid>")
						continue
					}
					u, err := parseUUID(parts[1])
					if err != nil {
						fmt.Printf("error: %v\n", err)
						continue
					}
					found, err := s.Delete(u)
					if err != nil {
						fmt.Printf("error: %v\n", err)
						continue
					}
					if err := s.Sync(pub); err != nil {
						fmt.Printf("error: %v\n", err)
						continue
					}
					if found {
						fmt.Println("deleted")
					} else {
						fmt.Println("no such blob")
					}
				case "stat":
					st, err := s.Stat()
					if err != nil {
						fmt.Printf("error: %v\n", err)
						continue
					}
					fmt.Printf("live=%d deleted=%d plaintext=%d file=%d\n",
						st.LiveRecords, st.DeletedRecords, st.PlaintextBytes, st.FileSize)
				case "sync":
					if err := s.Sync(pub); err != nil {
						fmt.Printf("error: %v\n", err)
						continue
					}
					fmt.Println("OK")
				case "purge":
					if err := s.Purge(); err != nil {
						fmt.Printf("error: %v\n", err)
						continue
					}
					if err := s.Sync(pub); err != nil {
						fmt.Printf("error: %v\n", err)
						continue
					}
					fmt.Println("OK")
				case "exit", "quit":
					return nil
				default:
					fmt.Println("unknown command")
				}
			}
		},
	}
	cmd.Flags().StringVar(&flagPrivKey, "privkey", "", "path to the PKCS#8 PEM private key")
	cmd.Flags().StringVar(&flagPubKey, "pubkey", "", "path to the SPKI PEM public key")
	cmd.MarkFlagRequired("privkey")
	cmd.MarkFlagRequired("pubkey")
	return cmd
}

func readPassphrase(prompt string) string {
	fmt.Print(prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

func parseUUID(s string) ([16]byte, error) {
	var out [16]byte
	u, err := uuid.Parse(s)
	if err != nil {
		return out, fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	copy(out[:], u[:])
	return out, nil
}

func loadPublicKey() (*rsa.PublicKey, error) {
	pemBytes, err := os.ReadFile(flagPubKey)
	if err != nil {
		return nil, fmt.Errorf("reading public key %s: %w", flagPubKey, err)
	}
	return bulkstore.ParsePublicKey(pemBytes)
}

// loadKeyPair loads the private key, and the public key when --pubkey was
// given (get and stat do not take one and receive a nil public key).
func loadKeyPair() (*rsa.PublicKey, *rsa.PrivateKey, error) {
	var pub *rsa.PublicKey
	if flagPubKey != "" {
		var err error
		pub, err = loadPublicKey()
		if err != nil {
			return nil, nil, err
		}
	}
	pemBytes, err := os.ReadFile(flagPrivKey)
	if err != nil {
		return nil, nil, fmt.Errorf("reading private key %s: %w", flagPrivKey, err)
	}
	if flagPassphrase == "" {
		flagPassphrase = readPassphrase("Enter private key passphrase: ")
	}
	priv, err := bulkstore.ParsePrivateKey(pemBytes, flagPassphrase)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}
