package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/awelon/stowdb"
)

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Reads a root key's current value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		v, err := db.ReadKey([]byte(args[0]))
		if err != nil {
			return err
		}
		if len(v) == 0 {
			fmt.Println("(absent)")
			return nil
		}
		fmt.Println(string(v))
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put [key] [value]",
	Short: "Writes and commits a root key's value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		tx := db.NewTX()
		defer tx.Drop()

		if err := tx.Write([]byte(args[0]), []byte(args[1])); err != nil {
			return err
		}
		ok, err := tx.Commit()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("stowctl: put: commit conflict")
		}
		fmt.Println("ok")
		return nil
	},
}

var stowCmd = &cobra.Command{
	Use:   "stow [value]",
	Short: "Stows a blob and prints its hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		tx := db.NewTX()
		h := tx.Stow([]byte(args[0]))

		if err := db.GC(); err != nil {
			tx.Drop()
			return err
		}
		tx.Drop()

		fmt.Println(h.String())
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load [hash]",
	Short: "Loads a blob by its hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := stowdb.ParseHash(args[0])
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		tx := db.NewTX()
		defer tx.Drop()

		v, ok, err := tx.Load(h)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("stowctl: load: unknown hash %s", args[0])
		}
		fmt.Println(string(v))
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Forces a synchronous garbage-collection cycle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.GC(); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Prints table sizes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		s, err := db.Stat()
		if err != nil {
			return err
		}
		fmt.Printf("roots:    %d\n", s.Roots)
		fmt.Printf("stowed:   %d\n", s.Stowed)
		fmt.Printf("zero-set: %d\n", s.ZeroSetSize)
		return nil
	},
}
