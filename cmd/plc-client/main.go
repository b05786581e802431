// Command plc-client is a CLI client for the mock MELSEC MC-protocol
// PLC server: connect once per invocation, issue one operation, print
// the result.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/melsecmock/plc/internal/mcproto"
	"github.com/melsecmock/plc/internal/plcclient"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type dialFlags struct {
	host   string
	port   int
	family string
}

func newRootCmd() *cobra.Command {
	df := &dialFlags{}
	root := &cobra.Command{
		Use:   "plc-client",
		Short: "Talk to a mock MELSEC MC-protocol PLC server",
	}

	dial := &cobra.Command{
		Use:   "dial",
		Short: "Connect to a server and run one operation",
	}
	dial.PersistentFlags().StringVar(&df.host, "host", "127.0.0.1", "server host")
	dial.PersistentFlags().IntVar(&df.port, "port", 5000, "server port")
	dial.PersistentFlags().StringVar(&df.family, "family", "3E", "MC frame family: 3E or 4E")

	v := viper.New()
	v.SetEnvPrefix("PLC")
	v.AutomaticEnv()
	_ = v.BindPFlag("host", dial.PersistentFlags().Lookup("host"))
	_ = v.BindPFlag("port", dial.PersistentFlags().Lookup("port"))
	dial.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		df.host = v.GetString("host")
		df.port = v.GetInt("port")
	}

	dial.AddCommand(
		readWordCmd(df), readWordsCmd(df), writeWordCmd(df),
		readBitCmd(df), readBitsCmd(df), writeBitCmd(df),
		remoteCmd(df, "remote-run", "issue Remote RUN", (*plcclient.Client).RemoteRun),
		remoteCmd(df, "remote-stop", "issue Remote STOP", (*plcclient.Client).RemoteStop),
		remoteCmd(df, "remote-pause", "issue Remote PAUSE", (*plcclient.Client).RemotePause),
		remoteCmd(df, "remote-reset", "issue Remote RESET", (*plcclient.Client).RemoteReset),
		cpuModelCmd(df),
		pingCmd(df),
	)

	root.AddCommand(dial)
	return root
}

func (df *dialFlags) connect() (*plcclient.Client, error) {
	fam := mcproto.ThreeE
	if df.family == "4E" {
		fam = mcproto.FourE
	}
	addr := fmt.Sprintf("%s:%d", df.host, df.port)
	return plcclient.Dial(addr, plcclient.Options{Family: fam, DialTimeout: 5 * time.Second})
}

func readWordCmd(df *dialFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "read-word CLASS HEAD",
		Short: "Read a single word device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := df.connect()
			if err != nil {
				return err
			}
			defer c.Close()
			head, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			v, err := c.ReadWord(args[0], head)
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}
}

func readWordsCmd(df *dialFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "read-words CLASS HEAD COUNT",
		Short: "Read consecutive word devices",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := df.connect()
			if err != nil {
				return err
			}
			defer c.Close()
			head, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			count, err := strconv.Atoi(args[2])
			if err != nil {
				return err
			}
			vals, err := c.ReadWords(args[0], head, count)
			if err != nil {
				return err
			}
			fmt.Println(vals)
			return nil
		},
	}
}

func writeWordCmd(df *dialFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "write-word CLASS HEAD VALUE",
		Short: "Write a single word device",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := df.connect()
			if err != nil {
				return err
			}
			defer c.Close()
			head, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			val, err := strconv.ParseUint(args[2], 10, 16)
			if err != nil {
				return err
			}
			return c.WriteWord(args[0], head, uint16(val))
		},
	}
}

func readBitCmd(df *dialFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "read-bit CLASS HEAD",
		Short: "Read a single bit device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := df.connect()
			if err != nil {
				return err
			}
			defer c.Close()
			head, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			v, err := c.ReadBit(args[0], head)
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}
}

func readBitsCmd(df *dialFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "read-bits CLASS HEAD COUNT",
		Short: "Read consecutive bit devices",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := df.connect()
			if err != nil {
				return err
			}
			defer c.Close()
			head, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			count, err := strconv.Atoi(args[2])
			if err != nil {
				return err
			}
			vals, err := c.ReadBits(args[0], head, count)
			if err != nil {
				return err
			}
			fmt.Println(vals)
			return nil
		},
	}
}

func writeBitCmd(df *dialFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "write-bit CLASS HEAD VALUE",
		Short: "Write a single bit device (VALUE: 0 or 1)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := df.connect()
			if err != nil {
				return err
			}
			defer c.Close()
			head, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			return c.WriteBit(args[0], head, args[2] != "0")
		},
	}
}

func remoteCmd(df *dialFlags, use, short string, op func(*plcclient.Client) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := df.connect()
			if err != nil {
				return err
			}
			defer c.Close()
			return op(c)
		},
	}
}

func cpuModelCmd(df *dialFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cpu-model",
		Short: "Read the CPU model name and code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := df.connect()
			if err != nil {
				return err
			}
			defer c.Close()
			name, code, err := c.CPUModel()
			if err != nil {
				return err
			}
			fmt.Printf("%s (code 0x%04X)\n", name, code)
			return nil
		},
	}
}

func pingCmd(df *dialFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test connectivity to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := df.connect()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Ping()
		},
	}
}
