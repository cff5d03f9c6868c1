// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/daviszhen/tuplestore/pkg/storage"
	"github.com/daviszhen/tuplestore/pkg/util"
	"github.com/daviszhen/tuplestore/pkg/workload"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initLayoutCmd()
	initStressCmd()
	RootCmd.AddCommand(configCmd)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file. default: tester.toml in . or etc/tester")
	RootCmd.PersistentFlags().StringVar(&testerCfg.Log.Level, "log_level", "info", "log level")
	viper.BindPFlag("log.level", RootCmd.PersistentFlags().Lookup("log_level"))
}

var testerCfg = func() *util.Config {
	cfg := util.DefaultConfig()
	return &cfg
}()

///root cmd

var info = "tester"
var RootCmd = &cobra.Command{
	Use:          "tester",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		testerCfg.Log.Level = viper.GetString("log.level")
		return util.SetLogLevel(testerCfg.Log.Level)
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use tester --help or -h")
	},
}

func initSchemaOptions() {
	testerCfg.Schema.Widths = viper.GetString("schema.widths")
}

//layout cmd

var layoutBlockSize uint32

var layoutInfo = "print the block geometry of a column schema"
var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: layoutInfo,
	Long:  layoutInfo,
	PreRun: func(cmd *cobra.Command, args []string) {
		viper.BindPFlag("schema.widths", cmd.Flags().Lookup("widths"))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		initSchemaOptions()
		widths, err := util.ParseWidths(testerCfg.Schema.Widths)
		if err != nil {
			return err
		}
		layout, err := storage.ComputeBlockLayoutWithSize(widths, layoutBlockSize)
		if err != nil {
			return err
		}
		workload.PrintLayout(cmd.OutOrStdout(), layout)
		return nil
	},
}

func initLayoutCmd() {
	RootCmd.AddCommand(layoutCmd)
	layoutCmd.Flags().StringVar(&testerCfg.Schema.Widths, "widths", testerCfg.Schema.Widths, "column widths. e.g. 8,4,1")
	layoutCmd.Flags().Uint32Var(&layoutBlockSize, "block_size", storage.BLOCK_SIZE, "block size in bytes")
}

//stress cmd

var stressInfo = "run concurrent tuple inserts against a block store"
var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: stressInfo,
	Long:  stressInfo,
	PreRun: func(cmd *cobra.Command, args []string) {
		viper.BindPFlag("schema.widths", cmd.Flags().Lookup("widths"))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		initStressCfg()
		opts, err := workload.OptionsFromConfig(testerCfg)
		if err != nil {
			return err
		}
		reg := prometheus.NewRegistry()
		metrics := storage.NewStoreMetrics("tester")
		if err = metrics.Register(reg); err != nil {
			return err
		}
		store := storage.NewBlockStore(storage.BlockStoreOptions{
			MaxBlocks: testerCfg.Store.MaxBlocks,
			Metrics:   metrics,
		})
		res, err := workload.Run(cmd.Context(), store, opts)
		if err != nil {
			return err
		}
		res.Print(cmd.OutOrStdout())
		return printMetrics(cmd, reg)
	},
}

func printMetrics(cmd *cobra.Command, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			val := m.GetCounter().GetValue()
			if g := m.GetGauge(); g != nil {
				val = g.GetValue()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", family.GetName(), val)
		}
	}
	return nil
}

func initStressCfg() {
	initSchemaOptions()
	testerCfg.Store.MaxBlocks = viper.GetInt("store.maxBlocks")
	testerCfg.Stress.Workers = viper.GetInt("stress.workers")
	testerCfg.Stress.Blocks = viper.GetInt("stress.blocks")
	testerCfg.Stress.TuplesPerWorker = viper.GetInt("stress.tuplesPerWorker")
	testerCfg.Stress.StartHint = viper.GetString("stress.startHint")
}

func initStressCmd() {
	RootCmd.AddCommand(stressCmd)
	def := util.DefaultConfig()
	stressCmd.Flags().StringVar(&testerCfg.Schema.Widths, "widths", def.Schema.Widths, "column widths. e.g. 8,4,1")
	stressCmd.Flags().IntVar(&testerCfg.Store.MaxBlocks, "max_blocks", def.Store.MaxBlocks, "blocks in the store pool")
	stressCmd.Flags().IntVar(&testerCfg.Stress.Workers, "workers", def.Stress.Workers, "concurrent inserters")
	stressCmd.Flags().IntVar(&testerCfg.Stress.Blocks, "blocks", def.Stress.Blocks, "blocks to fill at most")
	stressCmd.Flags().IntVar(&testerCfg.Stress.TuplesPerWorker, "tuples", def.Stress.TuplesPerWorker, "tuples per worker")
	stressCmd.Flags().StringVar(&testerCfg.Stress.StartHint, "start_hint", def.Stress.StartHint, "allocation scan start. lowest, goroutine")

	//schema.widths is bound in PreRun, layout has a flag of the same name
	viper.BindPFlag("store.maxBlocks", stressCmd.Flags().Lookup("max_blocks"))
	viper.BindPFlag("stress.workers", stressCmd.Flags().Lookup("workers"))
	viper.BindPFlag("stress.blocks", stressCmd.Flags().Lookup("blocks"))
	viper.BindPFlag("stress.tuplesPerWorker", stressCmd.Flags().Lookup("tuples"))
	viper.BindPFlag("stress.startHint", stressCmd.Flags().Lookup("start_hint"))
}

//config cmd

var configInfo = "print the effective config"
var configCmd = &cobra.Command{
	Use:   "config",
	Short: configInfo,
	Long:  configInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initStressCfg()
		return testerCfg.Encode(cmd.OutOrStdout())
	},
}

var defCfgFilePaths = []string{".", "etc/tester"}
var cfgFileName = "tester.toml"

var cfgFile string

// loadConfig reads the --config file, or else tester.toml if one exists.
// Flags override it and the built-in defaults fill whatever neither sets.
func loadConfig() {
	def := util.DefaultConfig()
	if cfgFile != "" {
		cfg, err := util.LoadConfig(cfgFile)
		if err != nil {
			util.Error("load config file failed",
				zap.String("fpath", cfgFile),
				zap.Error(err))
		} else {
			util.Info("config loaded", zap.String("fpath", cfgFile))
			def = cfg
		}
	}
	viper.SetDefault("store.maxBlocks", def.Store.MaxBlocks)
	viper.SetDefault("schema.widths", def.Schema.Widths)
	viper.SetDefault("stress.workers", def.Stress.Workers)
	viper.SetDefault("stress.blocks", def.Stress.Blocks)
	viper.SetDefault("stress.tuplesPerWorker", def.Stress.TuplesPerWorker)
	viper.SetDefault("stress.startHint", def.Stress.StartHint)
	viper.SetDefault("log.level", def.Log.Level)
	if cfgFile != "" {
		return
	}

	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			err := viper.ReadInConfig()
			if err != nil {
				util.Error("viper load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			util.Info("config loaded", zap.String("fpath", fpath))
			return
		}
	}
}

func main() {
	defer util.Sync()
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
