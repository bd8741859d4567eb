package sandbox

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const (
	TagName = "validate"
)

var defaultValidator = &Validator{}

// Validator 请求参数校验，校验规则写在 validate 结构体标签中
type Validator struct {
	once     sync.Once
	validate *validator.Validate
}

// Validate 参数验证
func (v *Validator) Validate(obj interface{}) error {
	if obj == nil {
		return nil
	}
	value := reflect.ValueOf(obj)
	switch value.Kind() {
	case reflect.Ptr:
		if value.IsNil() {
			return nil
		}
		return v.Validate(value.Elem().Interface())
	case reflect.Slice, reflect.Array:
		for i := 0; i < value.Len(); i++ {
			if err := v.Validate(value.Index(i).Interface()); err != nil {
				return err
			}
		}
	case reflect.Struct:
		v.lazyInit()
		return v.validate.Struct(obj)
	}
	return nil
}

// lazyInit 延迟初始化
func (v *Validator) lazyInit() {
	v.once.Do(func() {
		v.validate = validator.New()
		v.validate.SetTagName(TagName)
		v.validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
	})
}

// ValidateRequest 在发送请求前校验参数，失败时返回指定类别且没有副作用的 *Error
func ValidateRequest(op string, kind Kind, obj interface{}) error {
	return validateStruct(op, kind, obj)
}

func validateStruct(op string, kind Kind, obj interface{}) error {
	err := defaultValidator.Validate(obj)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		messages := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			messages = append(messages, describeFieldError(fe))
		}
		return &Error{Kind: kind, Op: op, Message: strings.Join(messages, "; "), NoSideEffect: true, Err: err}
	}
	return &Error{Kind: kind, Op: op, Message: err.Error(), NoSideEffect: true, Err: err}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of [" + fe.Param() + "]"
	case "gte", "min":
		return fe.Field() + " must be at least " + fe.Param()
	case "lte", "max":
		return fe.Field() + " must be at most " + fe.Param()
	default:
		return fe.Field() + " failed " + fe.Tag() + " validation"
	}
}
