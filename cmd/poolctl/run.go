package main

import (
	"fmt"
	"unsafe"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/objpool/fixedpool"
)

func newRunCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Allocate and free a synthetic workload against a Pool, printing a final report",
		RunE: func(cmd *cobra.Command, args []string) error {
			itemSize := viper.GetInt("item-size")
			slotCapacity := viper.GetInt("slot-capacity")

			pool, err := fixedpool.New(nil, slotCapacity, itemSize, fixedpool.WithName("poolctl-run"))
			if err != nil {
				return err
			}
			defer pool.Close()

			items := make([]unsafe.Pointer, 0, count)
			for i := 0; i < count; i++ {
				p, err := pool.Alloc()
				if err != nil {
					return fmt.Errorf("alloc #%d: %w", i, err)
				}
				items = append(items, p)
			}

			logrus.WithFields(logrus.Fields{
				"live":  pool.Len(),
				"slots": pool.SlotCount(),
			}).Info("poolctl: allocated")

			for i, it := range items {
				if i%2 != 0 {
					continue
				}
				if err := pool.Free(it); err != nil {
					return fmt.Errorf("free #%d: %w", i, err)
				}
			}

			stats := pool.Stats()
			fmt.Printf("live=%d slots=%d capacity=%d\n", stats.Live, stats.Slots, stats.Capacity)
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 1000, "number of items to allocate before freeing every other one")
	return cmd
}
