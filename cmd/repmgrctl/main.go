package main

import (
    "os"

    "github.com/sirupsen/logrus"
    "github.com/spf13/cobra"

    repmgrcli "github.com/LiamK/repmgr/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        logrus.Error(err)
        os.Exit(1)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "repmgrctl",
        Short:         "repmgr cluster bootstrap",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    repmgrcli.AddAll(root)
    return root
}
