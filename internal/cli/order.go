package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tay1862/kinsaep-core/internal/tables"
)

// NewOrderCommand creates the order command group.
func NewOrderCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Record, void and inspect orders",
	}
	cmd.AddCommand(newOrderRecordCommand(rootOpts))
	cmd.AddCommand(newOrderVoidCommand(rootOpts))
	cmd.AddCommand(newOrderShowCommand(rootOpts))
	return cmd
}

// parseLineItem parses "name:qty:price".
func parseLineItem(s string) (tables.LineItem, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return tables.LineItem{}, fmt.Errorf("item %q: want name:qty:price", s)
	}
	qty, err := strconv.Atoi(parts[1])
	if err != nil || qty < 1 {
		return tables.LineItem{}, fmt.Errorf("item %q: bad quantity", s)
	}
	price, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || price < 0 {
		return tables.LineItem{}, fmt.Errorf("item %q: bad price", s)
	}
	return tables.LineItem{Name: parts[0], Quantity: qty, Price: price}, nil
}

func newOrderRecordCommand(rootOpts *RootOptions) *cobra.Command {
	var orderID string
	var rawItems []string

	cmd := &cobra.Command{
		Use:           "record --item name:qty:price [--item ...]",
		Short:         "Record a new order (or replace an existing one)",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			if len(rawItems) == 0 {
				formatter.Error(ErrCodeSession, "at least one --item is required", nil)
				return WrapExitError(ExitCommandError, "no items", nil)
			}
			o := &tables.Order{OrderID: orderID}
			for _, raw := range rawItems {
				item, err := parseLineItem(raw)
				if err != nil {
					formatter.Error(ErrCodeSession, err.Error(), nil)
					return WrapExitError(ExitCommandError, "parse item", err)
				}
				o.Items = append(o.Items, item)
				o.Total += item.Price * int64(item.Quantity)
			}

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeSession, err.Error(), nil)
				return err
			}
			defer app.Close()

			if err := app.Sessions.RecordOrder(cmd.Context(), o); err != nil {
				formatter.Error(ErrCodeStore, "record order", err.Error())
				return WrapExitError(ExitFailure, "record order", err)
			}
			return formatter.SuccessText(
				fmt.Sprintf("order %s recorded, total %d\n", o.OrderID, o.Total), o)
		},
	}

	cmd.Flags().StringVar(&orderID, "id", "", "order id (generated when omitted)")
	cmd.Flags().StringArrayVar(&rawItems, "item", nil, "line item as name:qty:price (repeatable)")
	return cmd
}

func newOrderVoidCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "void <order-id>",
		Short:         "Void an order (its settled total becomes zero)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeSession, err.Error(), nil)
				return err
			}
			defer app.Close()

			// Verify the order exists before writing the void.
			if _, err := app.Sessions.Order(cmd.Context(), args[0]); err != nil {
				formatter.Error(ErrCodeStore, "void order", err.Error())
				return WrapExitError(ExitFailure, "void order", err)
			}
			o := &tables.Order{OrderID: args[0], Total: 0}
			if err := app.Sessions.RecordOrder(cmd.Context(), o); err != nil {
				formatter.Error(ErrCodeStore, "void order", err.Error())
				return WrapExitError(ExitFailure, "void order", err)
			}
			return formatter.SuccessText(
				fmt.Sprintf("order %s voided\n", args[0]), o)
		},
	}
}

func newOrderShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <order-id>",
		Short:         "Show an order's current state",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			app, err := openApp(rootOpts)
			if err != nil {
				formatter.Error(ErrCodeSession, err.Error(), nil)
				return err
			}
			defer app.Close()

			o, err := app.Sessions.Order(cmd.Context(), args[0])
			if err != nil {
				formatter.Error(ErrCodeStore, "show order", err.Error())
				return WrapExitError(ExitFailure, "show order", err)
			}
			var b strings.Builder
			fmt.Fprintf(&b, "order %s, total %d\n", o.OrderID, o.Total)
			for _, item := range o.Items {
				fmt.Fprintf(&b, "  %dx %s @ %d\n", item.Quantity, item.Name, item.Price)
			}
			return formatter.SuccessText(b.String(), o)
		},
	}
}
